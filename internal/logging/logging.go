package logging

import (
	"log"
	"os"
)

func New() *log.Logger {
	return log.New(os.Stdout, "mdmclient ", log.LstdFlags|log.LUTC)
}
