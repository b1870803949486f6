package main

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"

	"github.com/libxzr/vbmeta-disable-verification/pkg/vbmeta"
)

var errMultipleImages = errors.New("only one vbmeta image can be specified")

// invocation is everything a single run is told to do on the command line.
type invocation struct {
	image               string
	disableVerity       bool
	disableVerification bool
	verbose             bool
	help                bool
}

func (inv *invocation) bindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&inv.disableVerity, "disable-verity", false, "Disable dm-verity (sets flag 0x01 at offset 123)")
	fs.BoolVar(&inv.disableVerification, "disable-verification", false, "Disable dm-verification (sets flag 0x02 at offset 123)")
	fs.BoolVarP(&inv.verbose, "verbose", "v", false, "Enable verbose debug logging")
}

// parse walks args in order. Tokens naming a switch in fs turn it on, --help
// stops processing, and anything else is taken as the image path.
func (inv *invocation) parse(fs *pflag.FlagSet, args []string) error {
	for _, arg := range args {
		f := lookupSwitch(fs, arg)
		if arg == "--help" || (f != nil && f.Name == "help") {
			inv.help = true
			return nil
		}
		if f != nil && f.Value.Type() == "bool" {
			if err := f.Value.Set("true"); err != nil {
				return err
			}
			continue
		}
		if inv.image != "" {
			return errMultipleImages
		}
		inv.image = arg
	}

	if !inv.disableVerity && !inv.disableVerification {
		inv.disableVerity = true
		inv.disableVerification = true
	}
	return nil
}

func lookupSwitch(fs *pflag.FlagSet, arg string) *pflag.Flag {
	switch {
	case strings.HasPrefix(arg, "--"):
		return fs.Lookup(arg[2:])
	case len(arg) == 2 && arg[0] == '-':
		return fs.ShorthandLookup(arg[1:])
	}
	return nil
}

func (inv *invocation) mask() vbmeta.Flags {
	var m vbmeta.Flags
	if inv.disableVerity {
		m |= vbmeta.FlagDisableVerity
	}
	if inv.disableVerification {
		m |= vbmeta.FlagDisableVerification
	}
	return m
}
