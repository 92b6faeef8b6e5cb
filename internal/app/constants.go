package app

import "time"

const (
	Name           = "carlinkgo"
	SourceURL      = "https://git.skobk.in/skobkin/carlinkgo"
	ConfigFilename = "config.json"
	DBFilename     = "journal.db"
	LogFilename    = "carlink.log"

	writerQueueSize = 512
	shutdownTimeout = 5 * time.Second
	maxRetryBackoff = 15 * time.Second
)
