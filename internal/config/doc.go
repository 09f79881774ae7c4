// Package config provides configuration parsing for rawhttp.
//
// The configuration is stored in rawhttp.json, found in the working
// directory or any parent. This package handles loading, saving,
// validating and converting it to the option structs of the protocol
// packages.
//
// # Configuration File Structure
//
//	{
//	  "protocol": "h2",
//	  "timeouts": {
//	    "connect": "5s",
//	    "firstByte": "2s",
//	    "idle": "30s",
//	    "total": "off"
//	  },
//	  "tls": {"insecure": true, "alpn": ["h2"]},
//	  "proxy": "socks5://127.0.0.1:1080",
//	  "h1": {"strict": false, "userAgent": "lab/1.0"},
//	  "h2": {
//	    "initialWindowSize": 65535,
//	    "flow": "off",
//	    "noAutoWindowUpdate": true
//	  },
//	  "h3": {"qpackMaxTableCapacity": 4096, "dynamicCapacity": 4096},
//	  "logging": {"level": "debug", "format": "json"},
//	  "metrics": {"addr": "127.0.0.1:9464"},
//	  "capture": {"dir": "./captures"}
//	}
//
// # Usage
//
//	cfg, err := config.LoadFromWorkingDir()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts, err := cfg.Options()
package config
