package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wrapl/minilang-sub003/server"
)

func runServe(e *env, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := flags.String("addr", e.cfg.Server.GRPCAddr, "Address to listen on")
	if err := flags.Parse(args); err != nil {
		return err
	}

	srv := server.New(e.worker())
	go func() {
		<-e.ctx.Done()
		srv.Stop()
	}()
	fmt.Fprintf(os.Stderr, "minilang compile service listening on %s\n", *addr)
	return srv.ListenAndServe(*addr)
}

func runLSP(e *env, args []string) error {
	return server.NewLSP(e.worker()).Run()
}
