// Command posetrace-export turns a recording into the keyframe document
// read by the Blender importer addon, or summarizes it.
//
//	posetrace-export [-objects scene.gltf|manifest.yaml] [-o keys.json] run.ptrk
//	posetrace-export -journal journal.db -session <id> -o keys.json
//	posetrace-export -inspect run.ptrk
//	posetrace-export -journal journal.db -sessions
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/vincentbai/posetrace-agent/internal/codec"
	"github.com/vincentbai/posetrace-agent/internal/config"
	"github.com/vincentbai/posetrace-agent/internal/database"
	"github.com/vincentbai/posetrace-agent/internal/importer"
	"github.com/vincentbai/posetrace-agent/internal/models"
	"github.com/vincentbai/posetrace-agent/internal/pose"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

type options struct {
	journal   string
	sessionID string
	objects   string
	output    string
	inspect   bool
	sessions  bool
	progress  bool
	recording string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("posetrace-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.journal, "journal", "", "read from this SQLite capture journal")
	fs.StringVar(&o.sessionID, "session", "", "journal session to export")
	fs.StringVar(&o.objects, "objects", "", "glTF scene or YAML manifest naming the target objects")
	fs.StringVar(&o.output, "o", "", "write the export here instead of stdout")
	fs.BoolVar(&o.inspect, "inspect", false, "print a summary instead of exporting")
	fs.BoolVar(&o.sessions, "sessions", false, "list the sessions in the journal")
	fs.BoolVar(&o.progress, "progress", true, "show a progress bar while exporting")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	switch {
	case o.sessions:
		if o.journal == "" {
			return o, errors.New("-sessions needs -journal")
		}
	case o.journal != "":
		if o.sessionID == "" {
			return o, errors.New("-journal needs -session")
		}
		if fs.NArg() != 0 {
			return o, errors.New("give either a recording file or -journal, not both")
		}
	default:
		if fs.NArg() != 1 {
			return o, errors.New("expected exactly one recording file")
		}
		o.recording = fs.Arg(0)
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.sessions {
		return listSessions(o.journal, stdout)
	}

	snap, size, err := load(o)
	if err != nil {
		return err
	}
	if o.inspect {
		return inspect(snap, size, stdout)
	}

	objects, err := targetObjects(o.objects)
	if err != nil {
		return err
	}
	writer := importer.NewBlenderWriter(objects)

	logger := log.New(stderr, "", log.LstdFlags)
	replayOptions := []importer.Option{importer.WithLogger(logger)}
	var bar *pb.ProgressBar
	if o.progress {
		bar = pb.New(snap.Frames()).SetWriter(stderr).Start()
		replayOptions = append(replayOptions, importer.WithProgress(func() { bar.Increment() }))
	}
	report, err := importer.Replay(snap, writer, replayOptions...)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	out := stdout
	if o.output != "" {
		if err := os.MkdirAll(filepath.Dir(o.output), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		file, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}
	n, err := writer.WriteTo(out)
	if err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	logger.Printf("Exported %d frames for %d objects (%d skipped, %s)",
		report.Frames, len(report.Applied), len(report.Skipped), humanize.Bytes(uint64(n)))
	return nil
}

// load reads the snapshot from a recording file or from the journal. The
// size is zero for journal sessions.
func load(o options) (models.Snapshot, int64, error) {
	if o.journal != "" {
		db, err := database.NewDatabase(o.journal)
		if err != nil {
			return models.Snapshot{}, 0, err
		}
		defer db.Close()
		snap, err := db.LoadSnapshot(o.sessionID)
		return snap, 0, err
	}

	info, err := os.Stat(o.recording)
	if err != nil {
		return models.Snapshot{}, 0, err
	}
	snap, err := codec.ReadFile(o.recording)
	if err != nil {
		return models.Snapshot{}, 0, err
	}
	return snap, info.Size(), nil
}

// targetObjects returns the object names of a glTF scene or YAML manifest,
// or nil to accept every recorded object.
func targetObjects(path string) ([]string, error) {
	switch filepath.Ext(path) {
	case "":
		return nil, nil
	case ".gltf":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scene: %w", err)
		}
		scene, err := pose.ParseScene(data)
		if err != nil {
			return nil, err
		}
		return scene.Names(), nil
	case ".yaml", ".yml":
		manifest, err := config.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		return manifest.Objects, nil
	default:
		return nil, fmt.Errorf("unsupported objects file %s", path)
	}
}

func inspect(snap models.Snapshot, size int64, out io.Writer) error {
	fmt.Fprintf(out, "session:  %s\n", snap.SessionID)
	fmt.Fprintf(out, "scene:    %s\n", snap.Scene)
	fmt.Fprintf(out, "frames:   %d\n", snap.NextFrame)
	if size > 0 {
		fmt.Fprintf(out, "size:     %s\n", humanize.Bytes(uint64(size)))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tKEYFRAMES\tPATH\tMEAN STEP\tSTDDEV")
	for _, t := range snap.Tracks {
		s := travel(t)
		fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%.4f\n", t.Name, len(t.Keyframes), s.path, s.mean, s.stddev)
	}
	return tw.Flush()
}

type travelStats struct {
	path   float64
	mean   float64
	stddev float64
}

// travel measures how far an object moves between consecutive keyframes.
func travel(t models.Track) travelStats {
	if len(t.Keyframes) < 2 {
		return travelStats{}
	}
	steps := make([]float64, 0, len(t.Keyframes)-1)
	var s travelStats
	for i := 1; i < len(t.Keyframes); i++ {
		d := t.Keyframes[i].Transform.Translation.Sub(t.Keyframes[i-1].Transform.Translation).Len()
		steps = append(steps, d)
		s.path += d
	}
	if len(steps) == 1 {
		s.mean = steps[0]
		return s
	}
	s.mean, s.stddev = stat.MeanStdDev(steps, nil)
	return s
}

func listSessions(path string, out io.Writer) error {
	db, err := database.NewDatabase(path)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.Sessions()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSCENE\tOBJECTS\tFRAMES\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Scene, s.Objects, s.NextFrame, humanize.Time(s.CreatedAt))
	}
	return tw.Flush()
}
