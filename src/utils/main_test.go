package utils

import (
	"io"

	"market-streamer/src/logger"
)

func testLogger() *logger.Logger {
	logger.SetOutput(io.Discard)
	return logger.NewLogger(nil, "test")
}
