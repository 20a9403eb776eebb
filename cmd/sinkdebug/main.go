package main

import (
	"fmt"
	"os"

	"github.com/twistedxcom/termexecd/internal/logging"
	"github.com/twistedxcom/termexecd/internal/sink"
	"github.com/twistedxcom/termexecd/internal/termsession"
)

func main() {
	logging.Init(logging.Config{Debug: true, LogDir: os.TempDir(), Format: "text", Level: "debug"})
	dir, _ := os.MkdirTemp("", "sinkdbg")
	db, err := sink.Open(dir + "/c.db")
	if err != nil {
		panic(err)
	}
	db.Record(termsession.CompletionRecord{SessionID: "dup", Command: "one", Success: false})
	for i := 0; i < 50; i++ {
		recs, _ := db.Recent(10)
		if len(recs) == 1 {
			break
		}
	}
	db.Record(termsession.CompletionRecord{SessionID: "dup", Command: "one", Success: true, Stdout: "done"})
	for i := 0; i < 200; i++ {
		recs, _ := db.Recent(10)
		fmt.Printf("%+v\n", recs)
	}
}
