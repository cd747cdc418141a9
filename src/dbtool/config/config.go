package config

type Config struct {
	MysqlDataSource string
	DbSuffix        string `json:",optional"`
	TreeDB          struct {
		Driver string `json:",default=memory,options=memory|redis"`
		Option struct {
			Addr string `json:",optional"`
		} `json:",optional"`
	}
	Redis struct {
		Host     string `json:",optional"`
		Password string `json:",optional"`
	} `json:",optional"`
	EventQueue string `json:",default=vault_events"`
}
