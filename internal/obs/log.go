package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented JSON logger. The HTTP request log
// and the audit event mirror both write through it, so tests capture either
// stream by swapping its output.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON log line. The field set is caller-defined: the
// request middleware logs method/path/status, the audit recorder mirrors
// event/action/actor fields alongside the durable row.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log entry not marshalable"}`)
		return
	}
	Logger().Println(string(data))
}
