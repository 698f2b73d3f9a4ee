package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/weftlabs/weft/loom"
	"github.com/weftlabs/weft/memhost"
	"github.com/weftlabs/weft/sched"
)

const (
	itersKey   = "iters"
	tuningKey  = "tuning"
	pgoKey     = "pgo"
	verboseKey = "verbose"
)

// benchLogger is nil unless --verbose turned engine logging on.
var benchLogger *logiface.Logger[logiface.Event]

func main() {
	cmd := &cli.Command{
		Name:  "benchmark",
		Usage: "Measure weft render and commit latency on the in-memory host",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  itersKey,
				Usage: "Update iterations per tree shape",
				Value: 200,
			},
			&cli.StringFlag{
				Name:  tuningKey,
				Usage: "YAML tuning profile to run the engine with",
			},
			&cli.BoolFlag{
				Name:  pgoKey,
				Usage: "Write a default.pgo CPU profile",
			},
			&cli.BoolFlag{
				Name:  verboseKey,
				Usage: "Log engine debug output to stderr",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

var (
	ww = []int{1, 10, 100}
	hh = []int{1, 10, 100}
)

type summaryRow struct {
	scenario string
	width    int
	height   int
	iters    int
	best     time.Duration
	commits  uint64
	visited  uint64
	bailouts uint64
}

func run(ctx context.Context, cmd *cli.Command) error {
	iters := int(cmd.Uint(itersKey))

	prof := loom.DefaultProfile()
	if path := cmd.String(tuningKey); path != "" {
		var err error
		if prof, err = loom.LoadProfile(path); err != nil {
			return err
		}
	}

	if cmd.Bool(verboseKey) {
		benchLogger = stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
			stumpy.L.WithLevel(logiface.LevelDebug),
		).Logger()
	}

	if cmd.Bool(pgoKey) {
		f, err := os.Create("default.pgo")
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	log.Printf("warming up")

	var rows []summaryRow
	rows = append(rows, benchPropagate(prof, iters)...)
	rows = append(rows, benchChurn(prof, iters)...)
	rows = append(rows, benchSkip(prof, iters)...)

	renderSummary(rows)
	return nil
}

type relayProps struct {
	V     int
	Depth int
}

// propagateTree is a source component fanning out over width chains of
// height relays each, so one state change re-renders width*height units.
func propagateTree(width, height int, set **loom.Setter) *loom.Component {
	relay := &loom.Component{Name: "relay"}
	relay.Body = func(_ *loom.Turn, props, _ any) ([]loom.Description, error) {
		p := props.(relayProps)
		if p.Depth == 0 {
			return []loom.Description{loom.Text(strconv.Itoa(p.V))}, nil
		}
		return []loom.Description{loom.Render(relay, relayProps{V: p.V, Depth: p.Depth - 1})}, nil
	}

	return &loom.Component{
		Name: "source",
		Init: func(any) any { return 0 },
		Body: func(t *loom.Turn, _, state any) ([]loom.Description, error) {
			*set = t.Setter()
			v := state.(int)
			kids := make([]loom.Description, 0, width)
			for i := 0; i < width; i++ {
				kids = append(kids, loom.Render(relay, relayProps{V: v, Depth: height}))
			}
			return kids, nil
		},
	}
}

func benchPropagate(prof loom.Profile, iters int) []summaryRow {
	tbl := table.NewWriter()
	tbl.SetTitle("Propagate")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	var rows []summaryRow
	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: iters})

			clk := sched.NewManual()
			eng := loom.NewEngine(loom.WithScheduler(clk), loom.WithProfile(prof), loom.WithLogger(benchLogger))
			root := eng.CreateRoot(memhost.New())

			var set *loom.Setter
			root.Render(loom.Render(propagateTree(w, h, &set), nil))
			clk.Flush()

			best := time.Hour
			for i := 0; i < iters; i++ {
				start := time.Now()
				set.Set(i + 1)
				clk.Flush()
				d := time.Since(start)
				tach.AddTime(d)
				if d < best {
					best = d
				}
			}

			calc := tach.Calc()
			tbl.AppendRows([]table.Row{
				{
					fmt.Sprintf("propagate: %d * %d", w, h),
					calc.Time.Avg,
					calc.Time.Min,
					calc.Time.P75,
					calc.Time.P99,
					calc.Time.Max,
				},
			})

			stats := root.Stats()
			rows = append(rows, summaryRow{
				scenario: "propagate",
				width:    w,
				height:   h,
				iters:    iters,
				best:     best,
				commits:  stats.Commits,
				visited:  stats.UnitsVisited,
				bailouts: stats.Bailouts,
			})
		}
	}

	tbl.Render()
	return rows
}

// benchChurn rotates a keyed row list by one slot per iteration, which
// keeps every instance alive but moves it.
func benchChurn(prof loom.Profile, iters int) []summaryRow {
	tbl := table.NewWriter()
	tbl.SetTitle("Keyed churn")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	var rows []summaryRow
	for _, n := range []int{10, 100, 1000} {
		tach := tachymeter.New(&tachymeter.Config{Size: iters})

		clk := sched.NewManual()
		eng := loom.NewEngine(loom.WithScheduler(clk), loom.WithProfile(prof), loom.WithLogger(benchLogger))
		root := eng.CreateRoot(memhost.New())

		keys := make([]string, n)
		for i := range keys {
			keys[i] = strconv.Itoa(i)
		}
		render := func() {
			items := make([]loom.Description, 0, len(keys))
			for _, k := range keys {
				items = append(items, loom.Host("li", map[string]any{"id": k}, loom.Text(k)).WithKey(k))
			}
			root.Render(loom.Host("ul", nil, items...))
		}

		render()
		clk.Flush()

		best := time.Hour
		for i := 0; i < iters; i++ {
			keys = append(keys[1:], keys[0])
			start := time.Now()
			render()
			clk.Flush()
			d := time.Since(start)
			tach.AddTime(d)
			if d < best {
				best = d
			}
		}

		calc := tach.Calc()
		tbl.AppendRows([]table.Row{
			{
				fmt.Sprintf("rotate: %d rows", n),
				calc.Time.Avg,
				calc.Time.Min,
				calc.Time.P75,
				calc.Time.P99,
				calc.Time.Max,
			},
		})

		stats := root.Stats()
		rows = append(rows, summaryRow{
			scenario: "churn",
			width:    n,
			height:   1,
			iters:    iters,
			best:     best,
			commits:  stats.Commits,
			visited:  stats.UnitsVisited,
			bailouts: stats.Bailouts,
		})
	}

	tbl.Render()
	return rows
}

// skipTree pairs a counter text with width static blocks whose props
// never change, so every update re-renders one unit and skips the rest.
func skipTree(width, height int, set **loom.Setter) *loom.Component {
	block := &loom.Component{
		Name: "block",
		Body: func(_ *loom.Turn, props, _ any) ([]loom.Description, error) {
			depth := props.(int)
			d := loom.Text("static")
			for i := 0; i < depth; i++ {
				d = loom.Host("div", nil, d)
			}
			return []loom.Description{d}, nil
		},
	}

	return &loom.Component{
		Name: "page",
		Init: func(any) any { return 0 },
		Body: func(t *loom.Turn, _, state any) ([]loom.Description, error) {
			*set = t.Setter()
			kids := make([]loom.Description, 0, width+1)
			kids = append(kids, loom.Text(strconv.Itoa(state.(int))))
			for i := 0; i < width; i++ {
				kids = append(kids, loom.Render(block, height))
			}
			return kids, nil
		},
	}
}

func benchSkip(prof loom.Profile, iters int) []summaryRow {
	tbl := table.NewWriter()
	tbl.SetTitle("Bailout")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	var rows []summaryRow
	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: iters})

			clk := sched.NewManual()
			eng := loom.NewEngine(loom.WithScheduler(clk), loom.WithProfile(prof), loom.WithLogger(benchLogger))
			root := eng.CreateRoot(memhost.New())

			var set *loom.Setter
			root.Render(loom.Render(skipTree(w, h, &set), nil))
			clk.Flush()

			best := time.Hour
			for i := 0; i < iters; i++ {
				start := time.Now()
				set.Set(i + 1)
				clk.Flush()
				d := time.Since(start)
				tach.AddTime(d)
				if d < best {
					best = d
				}
			}

			calc := tach.Calc()
			tbl.AppendRows([]table.Row{
				{
					fmt.Sprintf("skip: %d * %d", w, h),
					calc.Time.Avg,
					calc.Time.Min,
					calc.Time.P75,
					calc.Time.P99,
					calc.Time.Max,
				},
			})

			stats := root.Stats()
			rows = append(rows, summaryRow{
				scenario: "skip",
				width:    w,
				height:   h,
				iters:    iters,
				best:     best,
				commits:  stats.Commits,
				visited:  stats.UnitsVisited,
				bailouts: stats.Bailouts,
			})
		}
	}

	tbl.Render()
	return rows
}

func renderSummary(rows []summaryRow) {
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetHeader([]string{
		"scenario", "size", "nTimes", "best", "updateRate", "commits", "visited", "bailouts",
	})

	for _, r := range rows {
		perMilli := float64(r.visited) / (float64(r.best) / float64(time.Millisecond)) / float64(r.iters)
		tbl.Append([]string{
			r.scenario,
			fmt.Sprintf("%dx%d", r.width, r.height),
			humanize.Comma(int64(r.iters)),
			fmt.Sprint(r.best),
			humanize.Comma(int64(perMilli)),
			humanize.Comma(int64(r.commits)),
			humanize.Comma(int64(r.visited)),
			humanize.Comma(int64(r.bailouts)),
		})
	}
	tbl.Render()
}
