package main

import (
	"context"
	"encoding/hex"
	"flag"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/vault/config"
	"github.com/vaultlabs/share-vault/src/vault/service"
)

func main() {
	configFile := flag.String("config", "config/config.json", "the config file")
	remotePasswdConfig := flag.String("remote_password_config", "", "fetch password from aws secretsmanager")
	flag.Parse()

	var secrets map[string]string
	if *remotePasswdConfig != "" {
		var err error
		secrets, err = utils.GetSecretMap(*remotePasswdConfig)
		if err != nil {
			panic(err.Error())
		}
		if err = config.ExportSecrets(secrets); err != nil {
			panic(err.Error())
		}
	}
	vaultConfig, err := config.Load(*configFile)
	if err != nil {
		panic(err.Error())
	}
	if passwd, ok := secrets["mysql_password"]; ok {
		s, err := utils.SetMysqlPassword(vaultConfig.MysqlDataSource, passwd)
		if err != nil {
			panic(err.Error())
		}
		vaultConfig.MysqlDataSource = s
	}
	logx.MustSetup(vaultConfig.Log)
	defer logx.Close()

	ops, err := utils.ParseOperationFile(vaultConfig.OperationFile)
	if err != nil {
		panic(err.Error())
	}
	logx.Infow("operations loaded", logx.Field("count", len(ops)))

	holderTree, err := utils.NewHolderTree(vaultConfig.TreeDB.Driver, vaultConfig.TreeDB.Option.Addr)
	if err != nil {
		panic(err.Error())
	}
	logx.Infow("holder tree opened",
		logx.Field("version", uint64(holderTree.LatestVersion())),
		logx.Field("root", hex.EncodeToString(holderTree.Root())))

	db, err := service.OpenDatabase(vaultConfig.MysqlDataSource)
	if err != nil {
		panic(err.Error())
	}

	var publisher service.EventPublisher
	locker := service.NewNopLocker()
	if vaultConfig.Redis.Host != "" {
		redisConn := redis.New(vaultConfig.Redis.Host, service.WithRedis(vaultConfig.Redis.Type, vaultConfig.Redis.Password))
		locker = service.NewRedisBatchLocker(redisConn)
		client := service.NewRedisClient(vaultConfig.Redis.Host, vaultConfig.Redis.Password)
		defer client.Close()
		publisher = service.NewRedisEventPublisher(client, vaultConfig.EventQueue)
	}

	vaultService, err := service.NewService(db, holderTree, vaultConfig, publisher, locker)
	if err != nil {
		panic(err.Error())
	}
	if err = vaultService.Run(context.Background(), ops); err != nil {
		logx.Errorf("vault service failed: %s", err.Error())
		panic(err.Error())
	}
	logx.Info("vault service run finished...")
}
