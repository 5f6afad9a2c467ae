// Package main vends the writer service, which handles the write traffic of wave application.
package main

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	// env vars set explicitly take precedence over .env
	_ = godotenv.Load()
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error running writer")
	}
}
