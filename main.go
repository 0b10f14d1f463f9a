package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/pairchat/api"
	"github.com/mqy/pairchat/auth"
	"github.com/mqy/pairchat/cluster"
	"github.com/mqy/pairchat/model"
	"github.com/mqy/pairchat/store"
	"github.com/mqy/pairchat/ws"
)

const (
	defaultKafkaGroupId = "pairchat"
	defaultKafkaTopic   = "pairchat-messages"
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1:5001", "server address, ip:port")
	flagPidFile  = flag.String("pid-file", "pairchat.pid", "pid file")
	flagMysqlDsn = flag.String("mysql-dsn", "", "mysql server dsn, like root:@tcp(127.0.0.1:3306)/pairchat?parseTime=true; empty keeps messages in memory")
	flagInitDb   = flag.Bool("init-schema", false, "create the mysql tables if missing")

	flagDemoUsers = flag.String("demo-users", "", "in memory store only: comma separated id:name users to create")

	flagKafkaBrokers = flag.String("kafka-brokers", "", "comma separated kafka brokers; empty runs standalone")
	flagKafkaTopic   = flag.String("kafka-topic", defaultKafkaTopic, "kafka topic relaying messages between nodes")
	flagKafkaGroup   = flag.String("kafka-group", defaultKafkaGroupId, "kafka consumer group prefix, the node id is appended")
	flagNodeId       = flag.String("node-id", "", "unique node id in the cluster, defaults to hostname-pid")

	flagPayloadMaxBytes = flag.Int("payload-max-bytes", 64<<10, "max encoded size of a relayed message")
	flagPushMaxAge      = flag.Duration("push-max-age", time.Minute, "relayed messages older than this are not pushed, 0 pushes all")

	flagSendRate  = flag.Float64("send-rate", 5, "messages per second a user may send, 0 disables the limit")
	flagSendBurst = flag.Int("send-burst", 10, "burst size of --send-rate")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	messageStore, db, err := openStore()
	if err != nil {
		return errorf("open store error: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	glog.Info("pairchat server is starting")

	authClient := newAuthClient()
	hub := ws.NewHub(authClient)

	var relay cluster.IRelay
	if *flagKafkaBrokers == "" {
		glog.Infof("no kafka brokers, run standalone")
		relay = cluster.NewStandalone(hub)
	} else {
		nodeId := *flagNodeId
		if nodeId == "" {
			host, _ := os.Hostname()
			nodeId = fmt.Sprintf("%s-%d", host, pid)
		}
		relay = cluster.NewKafkaRelay(&cluster.RelayCfg{
			NodeId:          nodeId,
			KafkaBrokers:    strings.Split(*flagKafkaBrokers, ","),
			KafkaTopic:      *flagKafkaTopic,
			KafkaGroupId:    *flagKafkaGroup,
			PayloadMaxBytes: *flagPayloadMaxBytes,
			MaxAge:          *flagPushMaxAge,
		}, hub)
	}

	router := mux.NewRouter()
	if !*flagDisableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	router.Handle("/ws", hub)
	api.NewApi(authClient, messageStore, relay).
		WithSendLimit(*flagSendRate, *flagSendBurst).
		Register(router)

	node := cluster.NewNode(&cluster.NodeCfg{
		Addr:  *flagAddr,
		Mux:   router,
		Hub:   hub,
		Relay: relay,
	})

	stopNotifyChan := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := node.Run(ctx, stopNotifyChan); err != nil {
			glog.Errorf("node run error: %v", err)
		}
	}()

	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpGoroutines(pprofDir)
		case syscall.SIGUSR2:
			if prof == nil {
				prof = startProfiler(pprofDir)
			} else {
				prof.stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("pairchat server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s` stopping", sig.String())
			go func() {
				if prof != nil {
					prof.stop()
				}
				cancel()
				<-stopNotifyChan
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	glog.Info("pairchat server exited")
	return 0
}

func newAuthClient() auth.Client {
	// TODO: hook into the session cookie issued by the login service.
	return &auth.MockClient{}
}

func openStore() (store.IMessageStore, *sql.DB, error) {
	if *flagMysqlDsn == "" {
		glog.Warningf("no --mysql-dsn, messages are kept in memory")
		return store.NewMemoryStore(parseDemoUsers(*flagDemoUsers)...), nil, nil
	}

	db, err := sql.Open("mysql", *flagMysqlDsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(1)

	if *flagInitDb {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return store.NewMessageStore(db), db, nil
}

// parseDemoUsers parses `id:full name` pairs; a bare id uses the id as name.
func parseDemoUsers(s string) []*model.User {
	var users []*model.User
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, name := item, item
		if i := strings.Index(item, ":"); i >= 0 {
			id, name = strings.TrimSpace(item[:i]), strings.TrimSpace(item[i+1:])
		}
		if id != "" {
			users = append(users, &model.User{ID: id, FullName: name})
		}
	}
	return users
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}

	if *flagMysqlDsn != "" && *flagDemoUsers != "" {
		return errorf("--demo-users is only supported without --mysql-dsn")
	}
	if *flagMysqlDsn == "" && *flagInitDb {
		return errorf("--init-schema requires --mysql-dsn")
	}

	if *flagKafkaBrokers != "" {
		if *flagKafkaTopic == "" {
			return errorf("--kafka-topic is required")
		}
		if *flagKafkaGroup == "" {
			return errorf("--kafka-group is required")
		}
	}

	if *flagPayloadMaxBytes < 1024 {
		return errorf("--payload-max-bytes MUST be at least 1024")
	}
	if *flagSendRate < 0 || *flagSendBurst < 1 {
		return errorf("--send-rate MUST not be negative and --send-burst MUST be positive")
	}
	if *flagPushMaxAge < 0 {
		return errorf("--push-max-age MUST not be negative")
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	if ips == "" {
		return nil
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := ioutil.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(strings.TrimSpace(string(content)))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			} else {
				glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := ioutil.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
