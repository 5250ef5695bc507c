package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-raidxor"
)

type rootParameters struct {
	ImageFilepath   string `short:"f" long:"image-filepath" description:"File-path of the sector image" required:"true"`
	Mode            string `short:"m" long:"mode" description:"What to do with the sectors" choice:"gen" choice:"chk" choice:"zero" choice:"corrupt-crc" choice:"corrupt-data" required:"true"`
	Lba             uint64 `short:"l" long:"lba" description:"Lba of the first sector"`
	RaidGroupOffset uint64 `short:"o" long:"raid-group-offset" description:"Physical offset of the raid-group"`
	AllowInvalids   bool   `short:"a" long:"allow-invalids" description:"Do not report deliberately invalidated sectors when checking"`
	ValidateData    bool   `short:"z" long:"validate-zeroed" description:"Also require the zeroed pattern when checking"`
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

	image, err := ioutil.ReadFile(rootArguments.ImageFilepath)
	log.PanicIf(err)

	count := len(image) / raidxor.BlockSize
	if count == 0 || len(image)%raidxor.BlockSize != 0 {
		fmt.Printf("Image is not a whole number of sectors: (%s) bytes\n", humanize.Comma(int64(len(image))))
		os.Exit(2)
	}

	sc, err := raidxor.NewSectorCursor(image)
	log.PanicIf(err)

	var options raidxor.Option
	switch rootArguments.Mode {
	case "gen":
		options = raidxor.OptionGenerateCrc | raidxor.OptionGenerateLbaStamp
	case "chk":
		options = raidxor.OptionCheckCrc | raidxor.OptionCheckLbaStamp
	case "corrupt-crc":
		options = raidxor.OptionCorruptCrc
	case "corrupt-data":
		options = raidxor.OptionCorruptData
	}

	if rootArguments.AllowInvalids == true {
		options |= raidxor.OptionAllowInvalids
	}

	if rootArguments.ValidateData == true {
		options |= raidxor.OptionValidateData
	}

	e := raidxor.NewEngine(raidxor.EngineConfig{})
	eb := raidxor.NewErrorBoard(0, rootArguments.RaidGroupOffset)

	sr := &raidxor.StampsRequest{
		Positions: []raidxor.StampsPosition{
			{
				Cursor: sc,
				Key:    raidxor.MaskOf(0),
				Seed:   rootArguments.Lba,
				Count:  count,
			},
		},
		Options:    options,
		ErrorBoard: eb,
	}

	status := raidxor.StatusNoError

	if rootArguments.Mode == "zero" {
		err = e.ZeroSectors(sr)
		log.PanicIf(err)
	} else {
		status, err = e.ExecuteStamps(sr)
		log.PanicIf(err)
	}

	fmt.Printf("Sectors: (%s) Bytes: [%s]\n", humanize.Comma(int64(count)), humanize.Bytes(uint64(len(image))))
	fmt.Printf("Status: [%s]\n", status)
	fmt.Printf("\n")

	eb.Dump()

	if eb.ModifiedBitmap != 0 {
		err := ioutil.WriteFile(rootArguments.ImageFilepath, image, 0644)
		log.PanicIf(err)

		fmt.Printf("Image updated.\n")
	}

	if status != raidxor.StatusNoError {
		os.Exit(3)
	}
}
