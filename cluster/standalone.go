package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/golang/glog"

	"github.com/mqy/pairchat/model"
)

// Standalone relays messages in process: the node that stores a message is the node that
// pushes it. Use it when a single server instance holds every connection.
type Standalone struct {
	deliverer Deliverer
}

func NewStandalone(deliverer Deliverer) *Standalone {
	return &Standalone{deliverer: deliverer}
}

// Publish implements `IRelay.Publish`.
func (s *Standalone) Publish(ctx context.Context, msg *model.Message) error {
	if !msg.Valid() {
		return errors.New("relay: message misses id or participants")
	}
	s.deliverer.Deliver(msg)
	return nil
}

// Run implements `IRelay.Run`.
func (s *Standalone) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	<-ctx.Done()
	stopDoneNotifyC <- struct{}{}
}

type NodeCfg struct {
	Addr  string
	Mux   http.Handler
	Hub   IHub
	Relay IRelay
}

// Node serves http and websocket traffic, and runs the relay.
type Node struct {
	conf       *NodeCfg
	httpServer *http.Server
}

func NewNode(conf *NodeCfg) *Node {
	return &Node{
		conf:       conf,
		httpServer: &http.Server{Handler: conf.Mux},
	}
}

// Run blocks until ctx is done and every component stopped, then notifies stopNotifyCh.
func (s *Node) Run(ctx context.Context, stopNotifyCh chan<- struct{}) error {
	glog.Infof("node is starting")

	lis, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("listen %s error: %v", s.conf.Addr, err)
	}
	return s.Serve(ctx, lis, stopNotifyCh)
}

// Serve is Run on an existing listener.
func (s *Node) Serve(ctx context.Context, lis net.Listener, stopNotifyCh chan<- struct{}) error {
	serveErrC := make(chan error, 1)
	go func() {
		glog.Infof("http server is listening %v", lis.Addr())
		if err := s.httpServer.Serve(lis); errors.Is(err, http.ErrServerClosed) {
			glog.Infof("http server closed")
			serveErrC <- nil
		} else {
			serveErrC <- fmt.Errorf("error serve http mux server: %v", err)
		}
	}()

	relayStopDoneC := make(chan struct{}, 1)
	relayCtx, relayCancel := context.WithCancel(context.Background())
	go s.conf.Relay.Run(relayCtx, relayStopDoneC)
	s.conf.Hub.Online()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErrC:
		glog.Error(err)
	}

	glog.Infof("node is stopping")
	s.conf.Hub.Offline()
	_ = s.httpServer.Shutdown(context.Background())
	glog.Infof("node: http server shutdown done")

	s.conf.Hub.Close()
	glog.Infof("node: hub stopped")

	relayCancel()
	<-relayStopDoneC
	glog.Infof("node: relay stopped")

	stopNotifyCh <- struct{}{}
	return err
}
