package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
	"github.com/flowtone/flowtone/midiin"
	"github.com/flowtone/flowtone/oto"
	"github.com/flowtone/flowtone/processors"
	"github.com/flowtone/flowtone/version"
	"gopkg.in/yaml.v3"
)

func main() {
	midiPort := flag.String("midi", "", "Connect the first MIDI input port whose name starts with this prefix to the graph's keyboard. Empty takes the first port.")
	noMidi := flag.Bool("no-midi", false, "Do not open a MIDI input.")
	debug := flag.Bool("debug", false, "Validate the state graph against the topology after every update.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(0)
	}
	if err := run(flag.Arg(0), *midiPort, !*noMidi, *debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(filename, midiPort string, useMidi, debug bool) error {
	inputBytes, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("could not read file %v: %v", filename, err)
	}
	var graph flowtone.Graph
	if err := yaml.Unmarshal(inputBytes, &graph); err != nil {
		return fmt.Errorf("could not parse %v: %v", filename, err)
	}

	audioContext, err := oto.NewContext()
	if err != nil {
		return fmt.Errorf("could not acquire oto AudioContext: %v", err)
	}
	defer audioContext.Close()
	sink := audioContext.Output()
	defer sink.Close()

	e, handle := engine.New(engine.Config{Sink: sink, DebugValidation: debug})
	if err := handle.Update(&graph); err != nil {
		return fmt.Errorf("could not load graph: %v", err)
	}
	e.Start()
	defer handle.Close()

	if useMidi {
		if kb := findKeyboard(&graph); kb != nil {
			input, err := midiin.Open(midiPort, kb)
			if err != nil {
				slog.Warn("MIDI input unavailable", "error", err)
			} else {
				defer input.Close()
				fmt.Printf("listening on MIDI input %v\n", input.Port())
			}
		}
	}

	fmt.Println("playing, press ctrl-c to quit")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	return nil
}

func findKeyboard(g *flowtone.Graph) *processors.Keyboard {
	for _, id := range g.ProcessorIDs() {
		if kb, ok := g.Processor(id).Kind.(*processors.Keyboard); ok {
			return kb
		}
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] graph.yml\nPlay a sound graph, optionally driven by a MIDI keyboard.\n", os.Args[0])
	flag.PrintDefaults()
}
