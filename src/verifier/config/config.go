package config

type Config struct {
	SnapshotTable string
	BalanceTable  string
}
