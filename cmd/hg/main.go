package main

// hg is a thin command shell over the store package: each subcommand
// opens (or initializes) a repository, calls exactly one core operation,
// and reports the result. It does not attempt to reimplement a full
// command dispatcher, templating, or help system.

import (
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/gorevlog/config"
	"github.com/rcowham/gorevlog/internal/version"
	"github.com/rcowham/gorevlog/revlog"
	"github.com/rcowham/gorevlog/store"
)

func openLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadFile(path)
	if err != nil {
		cfg, _ = config.Unmarshal(nil)
	}
	return cfg
}

func die(logger *logrus.Logger, err error) {
	logger.Error(err)
	os.Exit(1)
}

func cmdInit(root, configPath string, logger *logrus.Logger) {
	cfg := loadConfig(configPath)
	repo, err := store.Init(root, cfg, logger)
	if err != nil {
		die(logger, err)
	}
	defer repo.Close()
	logger.Infof("initialized repository at %s", root)
}

func cmdStatus(root, configPath string, logger *logrus.Logger) {
	cfg := loadConfig(configPath)
	repo, err := store.Open(root, cfg, logger)
	if err != nil {
		die(logger, err)
	}
	defer repo.Close()
	st, err := repo.Status()
	if err != nil {
		die(logger, err)
	}
	printStatusGroup("M", st.Modified)
	printStatusGroup("A", st.Added)
	printStatusGroup("R", st.Removed)
	printStatusGroup("?", st.Unknown)
}

func printStatusGroup(prefix string, paths []string) {
	sorted := append([]string{}, paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		fmt.Printf("%s %s\n", prefix, p)
	}
}

func cmdCommit(root, configPath, user, message string, logger *logrus.Logger) {
	cfg := loadConfig(configPath)
	repo, err := store.Open(root, cfg, logger)
	if err != nil {
		die(logger, err)
	}
	defer repo.Close()
	if user == "" {
		user = cfg.Username
	}
	node, err := repo.Commit(user, message, nil, "")
	if err != nil {
		die(logger, err)
	}
	logger.Infof("committed %s", node.Short())
}

func cmdLog(root, configPath string, limit int, logger *logrus.Logger) {
	cfg := loadConfig(configPath)
	repo, err := store.Open(root, cfg, logger)
	if err != nil {
		die(logger, err)
	}
	defer repo.Close()
	tip := repo.Changelog.Tip()
	if tip == revlog.NullRev {
		return
	}
	count := 0
	for rev := tip; rev != revlog.NullRev; rev-- {
		cs, err := repo.Changelog.Read(revlog.ByRev(rev))
		if err != nil {
			die(logger, err)
		}
		node, err := repo.Changelog.Revlog().NodeOf(rev)
		if err != nil {
			die(logger, err)
		}
		fmt.Printf("changeset: %d:%s\nuser: %s\ndate: %s\nsummary: %s\n\n",
			rev, node.Short(), cs.User, cs.Date, cs.Message)
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
}

func cmdVerify(root, configPath string, logger *logrus.Logger) {
	cfg := loadConfig(configPath)
	repo, err := store.Open(root, cfg, logger)
	if err != nil {
		die(logger, err)
	}
	defer repo.Close()
	problems := repo.Verify()
	for _, p := range problems {
		fmt.Println(p)
	}
	if len(problems) > 0 {
		logger.Errorf("%d integrity problems found", len(problems))
		os.Exit(1)
	}
	logger.Info("repository OK")
}

func main() {
	app := kingpin.New("hg", "Thin command shell over a revlog-based repository store.")
	app.Version(version.Print("hg")).Author("gorevlog")
	app.HelpFlag.Short('h')

	debug := app.Flag("debug", "Enable debugging level.").Bool()
	configFlag := app.Flag("config", "Path to the repository config file.").Default(".hg/hgrc.yaml").Short('c').String()
	repoRoot := app.Flag("repository", "Path to the repository's working directory.").Default(".").Short('R').String()

	initCmd := app.Command("init", "Create a new repository.")
	statusCmd := app.Command("status", "Show changed files in the working directory.")
	verifyCmd := app.Command("verify", "Check the integrity of every revlog.")

	commitCmd := app.Command("commit", "Commit the staged changes.")
	commitUser := commitCmd.Flag("user", "Commit author, overriding the config default.").String()
	commitMessage := commitCmd.Flag("message", "Commit message.").Short('m').Required().String()

	logCmd := app.Command("log", "Show revision history.")
	logLimit := logCmd.Flag("limit", "Maximum number of changesets to show (0 means all).").Short('l').Default("0").Int()

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := openLogger(*debug)
	switch cmd {
	case initCmd.FullCommand():
		cmdInit(*repoRoot, *configFlag, logger)
	case statusCmd.FullCommand():
		cmdStatus(*repoRoot, *configFlag, logger)
	case commitCmd.FullCommand():
		cmdCommit(*repoRoot, *configFlag, *commitUser, *commitMessage, logger)
	case logCmd.FullCommand():
		cmdLog(*repoRoot, *configFlag, *logLimit, logger)
	case verifyCmd.FullCommand():
		cmdVerify(*repoRoot, *configFlag, logger)
	}
}
