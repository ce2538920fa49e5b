package main

// dagviz renders the commit graph of a repository as a Graphviz file,
// generalizing cmd/gitgraph/gitgraph.go from parsing a git fast-export
// stream to reading a changelog directly: it walks dag.Heads() back
// through the changelog revlog's Parents, drawing one edge per parent
// link, with the second parent's edge of a merge commit labelled "m".

import (
	"fmt"
	"os"

	"github.com/emicklei/dot"
	graphviz "github.com/goccy/go-graphviz"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/gorevlog/changelog"
	"github.com/rcowham/gorevlog/dag"
	"github.com/rcowham/gorevlog/internal/version"
	"github.com/rcowham/gorevlog/revlog"
)

type dagvizOptions struct {
	storeDir    string
	outputDot   string
	outputImage string
	render      string
	maxRevs     int
}

// commitGraph walks the changelog backward from every head and renders
// it into graph, caching the dot.Node for each rev so parent edges only
// need to be drawn once per pair.
type commitGraph struct {
	cl     *changelog.Changelog
	d      *dag.DAG
	graph  *dot.Graph
	nodes  map[revlog.RevNum]dot.Node
	logger *logrus.Logger
}

func newCommitGraph(cl *changelog.Changelog, logger *logrus.Logger) *commitGraph {
	return &commitGraph{
		cl:     cl,
		d:      dag.New(cl),
		graph:  dot.NewGraph(dot.Directed),
		nodes:  make(map[revlog.RevNum]dot.Node),
		logger: logger,
	}
}

func (g *commitGraph) label(rev revlog.RevNum) string {
	node, err := g.cl.Revlog().NodeOf(rev)
	if err != nil {
		return fmt.Sprintf("rev%d", rev)
	}
	cs, err := g.cl.Read(revlog.ByRev(rev))
	if err != nil {
		return node.Short()
	}
	msg := cs.Message
	if len(msg) > 40 {
		msg = msg[:40] + "..."
	}
	return fmt.Sprintf("%s\n%s: %s", node.Short(), cs.User, msg)
}

func (g *commitGraph) nodeFor(rev revlog.RevNum) dot.Node {
	if n, ok := g.nodes[rev]; ok {
		return n
	}
	n := g.graph.Node(g.label(rev))
	g.nodes[rev] = n
	return n
}

// build draws every revision reachable from the changelog's heads,
// stopping at maxRevs visited nodes when maxRevs > 0, the same
// bounded-walk knob the teacher's firstCommit/lastCommit/maxCommits
// flags provided for fast-export streams.
func (g *commitGraph) build(maxRevs int) {
	rl := g.cl.Revlog()
	visited := make(map[revlog.RevNum]bool)
	var stack []revlog.RevNum
	for _, h := range g.d.Heads() {
		stack = append(stack, h)
	}
	for len(stack) > 0 {
		rev := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[rev] || rev == revlog.NullRev {
			continue
		}
		if maxRevs > 0 && len(visited) >= maxRevs {
			g.logger.Warnf("dagviz: stopped after %d revisions (--max.revs)", maxRevs)
			break
		}
		visited[rev] = true
		cur := g.nodeFor(rev)
		p1, p2 := rl.Parents(rev)
		if p1 != revlog.NullRev {
			g.graph.Edge(g.nodeFor(p1), cur, "")
			stack = append(stack, p1)
		}
		if p2 != revlog.NullRev {
			g.graph.Edge(g.nodeFor(p2), cur, "m")
			stack = append(stack, p2)
		}
	}
}

func run(opts *dagvizOptions, logger *logrus.Logger) error {
	cl, err := changelog.Open(opts.storeDir+"/00changelog.i", opts.storeDir+"/00changelog.d", revlog.DefaultOptions)
	if err != nil {
		return err
	}
	defer cl.Close()

	g := newCommitGraph(cl, logger)
	g.build(opts.maxRevs)

	if opts.outputDot != "" {
		f, err := os.OpenFile(opts.outputDot, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.WriteString(g.graph.String()); err != nil {
			return err
		}
	}

	if opts.render == "png" {
		if opts.outputImage == "" {
			return fmt.Errorf("dagviz: -render png requires --output.image")
		}
		gv := graphviz.New()
		gvGraph, err := graphviz.ParseBytes([]byte(g.graph.String()))
		if err != nil {
			return fmt.Errorf("dagviz: parsing dot for rasterization: %w", err)
		}
		if err := gv.RenderFilename(gvGraph, graphviz.PNG, opts.outputImage); err != nil {
			return fmt.Errorf("dagviz: rendering png: %w", err)
		}
	}
	return nil
}

func main() {
	var (
		storeDir = kingpin.Arg(
			"store",
			"Path to the repository's .hg/store directory.",
		).Required().String()
		outputDot = kingpin.Flag(
			"output",
			"Graphviz dot file to write the commit graph to.",
		).Short('o').String()
		outputImage = kingpin.Flag(
			"output.image",
			"PNG file to write when -render png is given.",
		).String()
		render = kingpin.Flag(
			"render",
			"Optional rasterization format (\"png\") applied on top of the dot output.",
		).String()
		maxRevs = kingpin.Flag(
			"max.revs",
			"Stop after visiting this many revisions (0 means all).",
		).Default("0").Int()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("dagviz")).Author("gorevlog")
	kingpin.CommandLine.Help = "Renders a repository's commit graph as a Graphviz dot file\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	logger.Infof("%v", version.Print("dagviz"))

	opts := &dagvizOptions{
		storeDir:    *storeDir,
		outputDot:   *outputDot,
		outputImage: *outputImage,
		render:      *render,
		maxRevs:     *maxRevs,
	}
	if err := run(opts, logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
