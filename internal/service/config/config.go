package config

type Config struct {
	// адрес внешнего отчета по балансам; пусто - баланс из собственного журнала
	BalanceSystemAddr string
}
