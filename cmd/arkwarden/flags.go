package main

import "time"

const defaultAPITimeout = 15 * time.Second

// GlobalFlags holds the persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	Token      string
	User       string
	Password   string
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	InstallPath  string
	Executable   string
	Args         []string
	Env          []string
	LogPath      string
	RCONHost     string
	RCONPort     uint16
	RCONPassword string
	RCONEnabled  bool
}

type MaintenanceFlags struct {
	InstallPath string
	Target      string
	MapID       string
	ModIDs      string
	Detach      bool
}

type DiagnoseFlags struct {
	Instance string
	Host     string
	Port     uint16
	Password string
}

type EventsFlags struct {
	Instance  string
	Operation string
	JSON      bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
