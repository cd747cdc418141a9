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
	Workers int `json:",default=1"`
}
