//go:build !darwin

package config

func platformSecrets() secretStore {
	return fileSecrets{path: secretsFilePath()}
}
