package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakSecretScoreThreshold = 3

// IsWeakSecret reports whether the internal auth secret is weak enough
// to warrant a startup warning.
func IsWeakSecret(secret string) bool {
	if secret == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(secret, nil)
	return result.Score < weakSecretScoreThreshold
}
