package loom_test

import (
	"strconv"
	"testing"

	"github.com/weftlabs/weft/loom"
	"github.com/weftlabs/weft/memhost"
	"github.com/weftlabs/weft/sched"
)

// benchRoot mounts desc on a fresh engine driven by a manual scheduler
// and flushes the mount so the loop below measures updates only.
func benchRoot(desc loom.Description) (*sched.Manual, *loom.Root) {
	clk := sched.NewManual()
	eng := loom.NewEngine(loom.WithScheduler(clk))
	root := eng.CreateRoot(memhost.New())
	root.Render(desc)
	clk.Flush()
	return clk, root
}

// BenchmarkKeyedRotation rotates a 100-row keyed list by one slot per
// iteration, the worst case for the two-pass child diff.
func BenchmarkKeyedRotation(b *testing.B) {
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}
	list := func() loom.Description {
		items := make([]loom.Description, 0, len(keys))
		for _, k := range keys {
			items = append(items, loom.Host("li", nil, loom.Text(k)).WithKey(k))
		}
		return loom.Host("ul", nil, items...)
	}
	clk, root := benchRoot(list())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		keys = append(keys[1:], keys[0])
		root.Render(list())
		clk.Flush()
	}
}

type chainProps struct {
	v     int
	depth int
}

// BenchmarkUpdatePropagation pushes one state change through a 50-deep
// relay chain whose props change at every level.
func BenchmarkUpdatePropagation(b *testing.B) {
	relay := &loom.Component{Name: "relay"}
	relay.Body = func(_ *loom.Turn, props, _ any) ([]loom.Description, error) {
		p := props.(chainProps)
		if p.depth == 0 {
			return []loom.Description{loom.Text(strconv.Itoa(p.v))}, nil
		}
		return []loom.Description{loom.Render(relay, chainProps{v: p.v, depth: p.depth - 1})}, nil
	}
	var set *loom.Setter
	source := &loom.Component{
		Name: "source",
		Init: func(any) any { return 0 },
		Body: func(t *loom.Turn, _, state any) ([]loom.Description, error) {
			set = t.Setter()
			return []loom.Description{loom.Render(relay, chainProps{v: state.(int), depth: 50})}, nil
		},
	}
	clk, _ := benchRoot(loom.Render(source, nil))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		set.Set(i + 1)
		clk.Flush()
	}
}

// BenchmarkBailoutDominatedUpdate updates one counter next to 100 static
// blocks, so nearly every unit of the pass bails out.
func BenchmarkBailoutDominatedUpdate(b *testing.B) {
	block := &loom.Component{
		Name: "block",
		Body: func(_ *loom.Turn, props, _ any) ([]loom.Description, error) {
			return []loom.Description{loom.Host("div", nil, loom.Text(props.(string)))}, nil
		},
	}
	var set *loom.Setter
	page := &loom.Component{
		Name: "page",
		Init: func(any) any { return 0 },
		Body: func(t *loom.Turn, _, state any) ([]loom.Description, error) {
			set = t.Setter()
			kids := make([]loom.Description, 0, 101)
			kids = append(kids, loom.Text(strconv.Itoa(state.(int))))
			for i := 0; i < 100; i++ {
				kids = append(kids, loom.Render(block, "static"))
			}
			return kids, nil
		},
	}
	clk, _ := benchRoot(loom.Render(page, nil))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		set.Set(i + 1)
		clk.Flush()
	}
}
