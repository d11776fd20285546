package main

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/weaveworks/go-checkpoint"
)

const (
	versionCheckPeriod = 6 * time.Hour
)

func checkForUpdates(logger log.Logger) *checkpoint.Checker {
	handleResponse := func(r *checkpoint.CheckResponse, err error) {
		if err != nil {
			logger.Log("err", err)
			return
		}
		if r.Outdated {
			logger.Log("msg", "update available", "latest", r.CurrentVersion, "URL", r.CurrentDownloadURL)
			return
		}
		logger.Log("msg", "up to date", "latest", r.CurrentVersion)
	}

	params := checkpoint.CheckParams{
		Product:       "forkd",
		Version:       version,
		SignatureFile: "",
	}

	return checkpoint.CheckInterval(&params, versionCheckPeriod, handleResponse)
}
