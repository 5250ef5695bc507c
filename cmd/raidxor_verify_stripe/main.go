package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/dsoprea/go-raidxor"
)

type rootParameters struct {
	ImageFilepaths    []string `short:"i" long:"image-filepath" description:"File-path of the image of one position (give once per position, in order)" required:"true"`
	RaidType          string   `short:"t" long:"raid-type" description:"Layout of the unit" choice:"striper" choice:"mirror" choice:"raw-mirror" choice:"r5" choice:"r6" required:"true"`
	ParityPositions   []int    `short:"p" long:"parity-position" description:"Parity position (row first); defaults to the last one or two positions"`
	Lba               uint64   `short:"l" long:"lba" description:"Lba of the first block"`
	RaidGroupObjectID uint32   `short:"g" long:"raid-group-id" description:"Object id of the raid-group" default:"1"`
	RaidGroupOffset   uint64   `short:"o" long:"raid-group-offset" description:"Physical offset of the raid-group"`
	ChunkBlocks       int      `short:"c" long:"chunk-blocks" description:"Blocks verified per job" default:"128"`
	Jobs              int      `short:"j" long:"jobs" description:"Chunks verified concurrently" default:"4"`
	RegionsCapacity   int      `short:"r" long:"regions" description:"Error regions kept per chunk" default:"64"`
	Write             bool     `short:"w" long:"write" description:"Write repaired positions back to their images"`
}

var (
	rootArguments = new(rootParameters)
)

// chunkResult is what one job reports.
type chunkResult struct {
	lba          uint64
	errorBoard   *raidxor.ErrorBoard
	errorRegions *raidxor.ErrorRegions
}

func loadImages(filepaths []string) (images [][]byte, count int) {
	images = make([][]byte, len(filepaths))

	for i, filepath := range filepaths {
		image, err := ioutil.ReadFile(filepath)
		log.PanicIf(err)

		if len(image)%raidxor.BlockSize != 0 {
			log.Panicf("image is not a whole number of sectors: [%s] (%d)", filepath, len(image))
		} else if i > 0 && len(image) != len(images[0]) {
			log.Panicf("images differ in size: [%s] (%d) != (%d)", filepath, len(image), len(images[0]))
		}

		images[i] = image
	}

	return images, len(images[0]) / raidxor.BlockSize
}

func parityPositions(width int) []int {
	if len(rootArguments.ParityPositions) > 0 {
		return rootArguments.ParityPositions
	}

	if rootArguments.RaidType == "r6" {
		return []int{width - 2, width - 1}
	}

	return []int{width - 1}
}

// recoveredError converts whatever a job panicked with into an error.
func recoveredError(errRaw interface{}) error {
	switch v := errRaw.(type) {
	case error:
		return log.Wrap(v)
	default:
		return log.Errorf("job panicked with a non-error: [%v]", v)
	}
}

// verifyChunk runs the driver for the layout over blocks [first, first+count).
func verifyChunk(e *raidxor.Engine, images [][]byte, first, count int) (cr chunkResult, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = recoveredError(errRaw)
		}
	}()

	width := len(images)

	cursors := make([]*raidxor.SectorCursor, width)
	keys := make([]raidxor.PositionMask, width)

	for i, image := range images {
		region := image[first*raidxor.BlockSize : (first+count)*raidxor.BlockSize]

		cursors[i], err = raidxor.NewSectorCursor(region)
		log.PanicIf(err)

		keys[i] = raidxor.MaskOf(i)
	}

	cr = chunkResult{
		lba:          rootArguments.Lba + uint64(first),
		errorBoard:   raidxor.NewErrorBoard(rootArguments.RaidGroupObjectID, rootArguments.RaidGroupOffset),
		errorRegions: raidxor.NewErrorRegions(rootArguments.RegionsCapacity),
	}

	options := raidxor.OptionCheckLbaStamp | raidxor.OptionAllowInvalids

	switch rootArguments.RaidType {
	case "striper":
		err = e.VerifyStriper(&raidxor.StriperRequest{
			Width:        width,
			Cursors:      cursors,
			Keys:         keys,
			Seed:         cr.lba,
			Count:        count,
			Options:      options,
			ErrorBoard:   cr.errorBoard,
			ErrorRegions: cr.errorRegions,
		})
	case "mirror", "raw-mirror":
		err = e.VerifyMirror(&raidxor.MirrorRequest{
			Width:        width,
			Cursors:      cursors,
			Keys:         keys,
			RawMirror:    rootArguments.RaidType == "raw-mirror",
			Seed:         cr.lba,
			Count:        count,
			Options:      options,
			ErrorBoard:   cr.errorBoard,
			ErrorRegions: cr.errorRegions,
		})
	default:
		err = e.VerifyParity(&raidxor.ParityRequest{
			Width:           width,
			Cursors:         cursors,
			Keys:            keys,
			ParityPositions: parityPositions(width),
			Seed:            cr.lba,
			Count:           count,
			Options:         options,
			ErrorBoard:      cr.errorBoard,
			ErrorRegions:    cr.errorRegions,
		})
	}

	log.PanicIf(err)

	return cr, nil
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := recoveredError(state)
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	if rootArguments.ChunkBlocks <= 0 || rootArguments.Jobs <= 0 || rootArguments.RegionsCapacity <= 0 {
		fmt.Printf("Chunk size, job count and region capacity must be positive.\n")
		os.Exit(2)
	}

	images, count := loadImages(rootArguments.ImageFilepaths)

	e := raidxor.NewEngine(raidxor.EngineConfig{})

	chunks := (count + rootArguments.ChunkBlocks - 1) / rootArguments.ChunkBlocks
	results := make([]chunkResult, chunks)

	// Chunks touch disjoint parts of the images.
	var g errgroup.Group
	g.SetLimit(rootArguments.Jobs)

	for n := 0; n < chunks; n++ {
		n := n

		first := n * rootArguments.ChunkBlocks
		blocks := rootArguments.ChunkBlocks
		if first+blocks > count {
			blocks = count - first
		}

		g.Go(func() error {
			cr, err := verifyChunk(e, images, first, blocks)
			if err != nil {
				return err
			}

			results[n] = cr
			return nil
		})
	}

	err = g.Wait()
	log.PanicIf(err)

	total := raidxor.NewErrorBoard(rootArguments.RaidGroupObjectID, rootArguments.RaidGroupOffset)

	for _, cr := range results {
		total.Fold(cr.errorBoard)

		if cr.errorRegions.Len() == 0 {
			continue
		}

		fmt.Printf("Chunk at (0x%x):\n", cr.lba)
		fmt.Printf("\n")

		cr.errorRegions.Dump()
	}

	fmt.Printf("Blocks: (%s) Positions: (%d) Chunks: (%s)\n", humanize.Comma(int64(count)), len(images), humanize.Comma(int64(chunks)))
	fmt.Printf("\n")

	total.Dump()

	if rootArguments.Write == true {
		for _, i := range total.WriteBitmap.Positions() {
			err := ioutil.WriteFile(rootArguments.ImageFilepaths[i], images[i], 0644)
			log.PanicIf(err)

			fmt.Printf("Position (%d) written: [%s]\n", i, rootArguments.ImageFilepaths[i])
		}
	}

	if total.UncorrectableBitmap() != 0 {
		os.Exit(3)
	}
}
