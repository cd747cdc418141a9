package utils

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-sql-driver/mysql"
)

func GetSecretFromAws(secretId string) (string, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = DefaultAwsRegion
	}
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		return "", err
	}
	conn := secretsmanager.NewFromConfig(cfg)

	result, err := conn.GetSecretValue(context.TODO(), &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretId),
	})
	if err != nil {
		return "", err
	}

	return *result.SecretString, nil
}

// GetSecretMap fetches a secret whose value is a flat JSON object.
func GetSecretMap(secretId string) (map[string]string, error) {
	value, err := GetSecretFromAws(secretId)
	if err != nil {
		return nil, err
	}
	var result map[string]string
	err = json.Unmarshal([]byte(value), &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetMysqlSource replaces the password of a mysql DSN with the
// "mysql_password" entry of the secret.
func GetMysqlSource(source string, secretId string) (string, error) {
	secrets, err := GetSecretMap(secretId)
	if err != nil {
		return "", err
	}
	return SetMysqlPassword(source, secrets["mysql_password"])
}

func SetMysqlPassword(source string, passwd string) (string, error) {
	cfg, err := mysql.ParseDSN(source)
	if err != nil {
		return "", err
	}
	cfg.Passwd = passwd
	return cfg.FormatDSN(), nil
}
