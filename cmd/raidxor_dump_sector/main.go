package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-raidxor"
)

type rootParameters struct {
	ImageFilepath   string `short:"f" long:"image-filepath" description:"File-path of the sector image" required:"true"`
	BlockIndex      int64  `short:"b" long:"block" description:"Index of the sector within the image" default:"0"`
	Lba             uint64 `short:"l" long:"lba" description:"Lba of the sector (for the lba-stamp and invalidation checks)"`
	RaidGroupOffset uint64 `short:"o" long:"raid-group-offset" description:"Physical offset of the raid-group"`
	RawMirror       bool   `short:"r" long:"raw-mirror" description:"Also decode the raw-mirror header"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err, ok := state.(error)
			if ok != true {
				err = log.Errorf("%v", state)
			}

			log.PrintError(log.Wrap(err))
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	f, err := os.Open(rootArguments.ImageFilepath)
	log.PanicIf(err)

	defer f.Close()

	s := make(raidxor.Sector, raidxor.BlockSize)

	_, err = f.ReadAt(s, rootArguments.BlockIndex*raidxor.BlockSize)
	if err == io.EOF {
		fmt.Printf("Block (%d) is past the end of the image.\n", rootArguments.BlockIndex)
		os.Exit(2)
	}

	log.PanicIf(err)

	s.Dump()

	lba := rootArguments.Lba
	offset := rootArguments.RaidGroupOffset

	fmt.Printf("Checksum valid: [%v]\n", raidxor.IsChecksumValid(s))
	fmt.Printf("Lba-stamp valid: [%v] Expected: (0x%04x)\n", raidxor.IsValidLbaStamp(s, lba, offset), raidxor.LbaStamp(lba, offset))
	fmt.Printf("Mirror/striper stamps valid: [%v]\n", raidxor.ValidateStampsForMirrorOrStriper(s, lba, offset))
	fmt.Printf("Zeroed: [%v]\n", raidxor.IsZeroedSector(s))
	fmt.Printf("Klondike: [%v]\n", raidxor.IsKlondikeSector(s))

	if isi, ok := raidxor.ReadInvalidSector(s); ok == true {
		fmt.Printf("Invalidated: %s Proper: [%v]\n", isi, raidxor.IsProperlyInvalidated(s, lba, false))
	} else {
		fmt.Printf("Invalidated: [false]\n")
	}

	if rootArguments.RawMirror == true {
		rmh, err := raidxor.ReadRawMirrorHeader(s)
		log.PanicIf(err)

		fmt.Printf("Raw-mirror header: %s Valid: [%v]\n", rmh, rmh.IsValid())
	}
}
