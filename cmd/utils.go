package cmd

import (
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
)

// EnvFileFlag registers and parses the -env flag, returning the path of an
// env file to load or "" to use os.Environ only.
func EnvFileFlag() string {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
	}

	return configPath
}

// SetupLogFile sends the standard logger, and with it the default slog
// handler, to both stderr and root/name.
func SetupLogFile(root, name string) (*os.File, error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(root, name), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))
	return f, nil
}
