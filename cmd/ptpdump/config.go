package main

import (
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

// ConfigFileName is the config path that setupconfig reads and mkconf writes.
var ConfigFileName = "ptpdump.yml"

var k = koanf.New(".")

// config is ptpdump's full runtime configuration, loaded with defaults
// from structs.Provider and overlaid with ConfigFileName if present.
type config struct {
	// Transport selects "usb", "ip", or "ipoverusb".
	Transport string `yaml:"Transport"`

	// VendorID/ProductID select the USB device when Transport is usb or
	// ipoverusb.
	VendorID  uint16 `yaml:"VendorID"`
	ProductID uint16 `yaml:"ProductID"`

	// Host/CommandPort/EventPort dial a PTP/IP device when Transport is ip.
	Host        string `yaml:"Host"`
	CommandPort int    `yaml:"CommandPort"`
	EventPort   int    `yaml:"EventPort"`

	// StatusAddr, if non-empty, serves a /status endpoint at this address.
	StatusAddr string `yaml:"StatusAddr"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Transport:   "usb",
		VendorID:    0x04a9, // Canon Inc.
		ProductID:   0x3146,
		Host:        "192.168.1.1",
		CommandPort: 15740,
		EventPort:   15740,
		StatusAddr:  "",
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") {
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func mkconf() {
	c := config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}
