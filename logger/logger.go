// Package logger provides adapters for popular logger libraries to work with cowtree's Logger interface.
//
// The adapters allow you to use your existing logger with cowtree without writing boilerplate.
// Note that the standard library's slog.Logger already implements cowtree.Logger directly.
//
// Example with zap:
//
//	import (
//	    "cowtree"
//	    "cowtree/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    store, err := cowtree.Open("data.cow", cowtree.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer store.Close()
//	}
package logger
