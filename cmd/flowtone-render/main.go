package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowtone/flowtone"
	"github.com/flowtone/flowtone/engine"
	_ "github.com/flowtone/flowtone/processors"
	"github.com/flowtone/flowtone/version"
	"gopkg.in/yaml.v3"
)

func main() {
	seconds := flag.Float64("seconds", 10, "How many seconds of audio to render.")
	rawOut := flag.Bool("r", false, "Output raw audio data instead of a .wav file.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	directory := flag.String("o", "", "Directory where to output the rendered file. By default, the working directory.")
	debug := flag.Bool("debug", false, "Validate the state graph against the topology after every update.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	for _, filename := range flag.Args() {
		if err := render(filename, *seconds, *rawOut, *pcm, *directory, *debug); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func render(filename string, seconds float64, rawOut, pcm bool, directory string, debug bool) error {
	inputBytes, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("could not read file %v: %v", filename, err)
	}
	var graph flowtone.Graph
	if err := yaml.Unmarshal(inputBytes, &graph); err != nil {
		return fmt.Errorf("could not parse %v: %v", filename, err)
	}

	sink := &flowtone.BufferSink{}
	e, handle := engine.New(engine.Config{Sink: sink, DebugValidation: debug})
	if err := handle.Update(&graph); err != nil {
		return fmt.Errorf("could not load graph: %v", err)
	}
	chunks := int(seconds*flowtone.SampleRate/flowtone.ChunkSize + 0.5)
	e.Render(chunks)
	if err := handle.Close(); err != nil {
		return err
	}

	var contents []byte
	extension := ".wav"
	if rawOut {
		contents, err = sink.Buffer.Raw(pcm)
		extension = ".raw"
	} else {
		contents, err = sink.Buffer.Wav(pcm)
	}
	if err != nil {
		return fmt.Errorf("could not render %v: %v", filename, err)
	}

	if directory == "" {
		if directory, err = os.Getwd(); err != nil {
			return fmt.Errorf("could not get working directory, specify the output directory explicitly: %v", err)
		}
	}
	if err := os.MkdirAll(directory, os.ModePerm); err != nil {
		return fmt.Errorf("could not create output directory %v: %v", directory, err)
	}
	_, name := filepath.Split(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
	f := filepath.Join(directory, name)
	if err := os.WriteFile(f, contents, 0644); err != nil {
		return fmt.Errorf("could not write file %v: %v", f, err)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] graph.yml [graph2.yml ...]\nRender sound graphs to audio files offline.\n", os.Args[0])
	flag.PrintDefaults()
}
