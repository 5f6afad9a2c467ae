// Package main vends the reader service, which handles the read traffic of wave application.
package main

import (
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error running reader")
	}
}
