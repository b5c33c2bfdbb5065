package main

import (
	"encoding/json"
	"os"
)

// Config holds every setting chatlined can be started with, whether it
// came from flags or from a JSON override file.
type Config struct {
	Listen         string `json:"listen"`
	MaxConnections int    `json:"maxconnections"`
	MaxLineBytes   int    `json:"maxlinebytes"`
	Log            string `json:"log"`
	StatsLog       string `json:"statslog"`
	StatsPeriod    int    `json:"statsperiod"`
	Quiet          bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
