// thickpipe runs the staged thickness pipeline for one subject and one side:
// similarity scanning against the atlas population, group membership,
// chain-building registration, geodesic shooting interpolation, and the
// terminal thickness/overlap report.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/hippocamp/thickpipe"
	"github.com/hippocamp/thickpipe/engine"
	"github.com/hippocamp/thickpipe/pipeline"
)

// Special value that is to be set using ldflags
// E.g.: go build -ldflags "-X main.builddate=`date -u +%Y-%m-%d:%H:%M:%S%Z`"
var builddate string

func main() {
	fmt.Fprintf(os.Stderr, "This thickpipe binary was built at: %s\n", builddate)

	var id, side, inputDir, templateDir, outputDir, stageRange, toolDir string
	var threads int
	var tidy, debug bool

	flag.StringVar(&id, "id", "", "Subject identifier; its segmentation is found under -input.")
	flag.StringVar(&side, "side", "", "Hemisphere to process: left or right. One side per invocation.")
	flag.StringVar(&inputDir, "input", "", "Directory holding the subject segmentations.")
	flag.StringVar(&templateDir, "template", "", "Template directory: template.json, atlases.tsv and per-atlas data.")
	flag.StringVar(&outputDir, "output", "", "Directory for the report CSV and the working tree.")
	flag.StringVar(&stageRange, "stages", "", "Stage range to run, e.g. 3 or 1-5. Empty selects the default range.")
	flag.StringVar(&toolDir, "tooldir", "", "Directory holding the external tool binaries (falls back to PATH, then this binary's directory).")
	flag.IntVar(&threads, "threads", runtime.NumCPU(), "Thread grant for the external registration tools.")
	flag.BoolVar(&tidy, "tidy", false, "Remove the working tree after a successful run.")
	flag.BoolVar(&debug, "debug", false, "Preserve the working tree on interruption.")
	flag.Parse()

	for name, v := range map[string]string{"id": id, "side": side, "input": inputDir, "template": templateDir, "output": outputDir} {
		if v == "" {
			fmt.Fprintf(os.Stderr, "Please provide -%s\n", name)
			flag.PrintDefaults()
			os.Exit(1)
		}
	}

	start, end, err := pipeline.ParseStages(stageRange)
	if err != nil {
		log.Fatalln(err)
	}

	tools := engine.NewExecTools(toolDir)

	run, err := pipeline.New(pipeline.Config{
		Subject:     pipeline.Subject{ID: id, Side: side},
		InputDir:    thickpipe.ExpandHome(inputDir),
		TemplateDir: thickpipe.ExpandHome(templateDir),
		OutputDir:   thickpipe.ExpandHome(outputDir),
		Threads:     threads,
	}, engine.Engines{Reg: tools, Img: tools, Mesh: tools, Shoot: tools})
	if err != nil {
		log.Fatalln(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	errs := make(chan error, 1)
	began := time.Now()
	log.Printf("running stages %d-%d for %s/%s", start, end, id, side)

	go func() {
		errs <- run.Execute(start, end)
	}()

	select {
	case s := <-sig:
		log.Printf("caught %v, stopping", s)
		if !debug {
			if err := run.Tidy(); err != nil {
				log.Println(err)
			}
		}
		os.Exit(1)

	case err := <-errs:
		if err != nil {
			log.Println(err)
			if status, ok := engine.ExitStatus(err); ok {
				os.Exit(status)
			}
			os.Exit(1)
		}
	}

	if tidy {
		if err := run.Tidy(); err != nil {
			log.Fatalln(err)
		}
	}

	log.Printf("completed stages %d-%d for %s/%s in %s; report at %s", start, end, id, side, time.Since(began), run.ReportPath())
}
