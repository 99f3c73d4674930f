package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "lightspeed-sync",
	Level: hclog.LevelFromString("DEBUG"),
})