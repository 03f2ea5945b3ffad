// README: zap logger construction (JSON in production, console otherwise).
package infra

import "go.uber.org/zap"

func NewLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		config := zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		return config.Build()
	}
	return zap.NewDevelopment()
}
