package logx

import "go.uber.org/zap"

// New builds the process logger: human-readable in dev, JSON otherwise.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
