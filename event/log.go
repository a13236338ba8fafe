package event

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"chat-service/config"

	"github.com/pkg/errors"
)

type EventLogData struct {
	Time    int64  `json:"time"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Data    string `json:"data"`
}

const (
	RabbitMQInLogFile  string = "log/in.log"
	RabbitMQOutLogFile string = "log/out.log"
)

// EVENT_MODE values.
const (
	ModeDisable   = "DISABLE"
	ModeIn        = "IN"
	ModeInSend    = "IN_SEND"
	ModeInSendLog = "IN_SEND_LOG"
	ModeOut       = "OUT"
)

var (
	InLogFile  *os.File
	OutLogFile *os.File
	logMu      sync.Mutex
)

// Logging reports whether events are written to the in/out logs.
func Logging() bool {
	return config.Config("EVENT_MODE") != ModeDisable
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
}

func OpenLogs() {
	var err error
	if InLogFile, err = openLog(RabbitMQInLogFile); err != nil {
		panic(err)
	}
	if OutLogFile, err = openLog(RabbitMQOutLogFile); err != nil {
		panic(err)
	}
}

func CloseLogs() {
	for _, f := range []*os.File{InLogFile, OutLogFile} {
		if f != nil {
			f.Close()
		}
	}
}

func writeLog(f *os.File, data EventLogData) error {
	if f == nil {
		return nil
	}
	line, err := json.Marshal(data)
	if err != nil {
		return err
	}
	logMu.Lock()
	defer logMu.Unlock()
	_, err = f.Write(append(line, '\n'))
	return err
}

func InLog(data EventLogData) {
	if err := writeLog(InLogFile, data); err != nil {
		log.Printf("failed to write in log: %v", err)
	}
}

func OutLog(data EventLogData) {
	if err := writeLog(OutLogFile, data); err != nil {
		log.Printf("failed to write out log: %v", err)
	}
}

// ReadLog decodes an event log, one JSON record per line.
func ReadLog(path string) ([]EventLogData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "event.ReadLog")
	}
	defer f.Close()

	var records []EventLogData
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var data EventLogData
		if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
			return nil, errors.Wrapf(err, "event.ReadLog: line %d", len(records)+1)
		}
		records = append(records, data)
	}
	return records, errors.Wrap(scanner.Err(), "event.ReadLog")
}

// Init replays the event logs according to EVENT_MODE.
func Init() {
	switch config.Config("EVENT_MODE") {
	case ModeInSendLog:
		InitIn(EventChannelOutData{Send: true, Log: true})
	case ModeInSend:
		InitIn(EventChannelOutData{Send: true, Log: false})
	case ModeIn:
		InitIn(EventChannelOutData{Send: false, Log: false})
	case ModeOut:
		InitOut()
	}
}

// InitIn feeds the inbound log back into the subscribed listeners.
func InitIn(out EventChannelOutData) {
	if err := ReplayIn(RabbitMQInLogFile, RabbitMQListeners, out); err != nil {
		log.Fatalf("failed replaying in log: %s", err)
	}
}

func ReplayIn(path string, listeners map[string]chan EventChannelData, out EventChannelOutData) error {
	records, err := ReadLog(path)
	if err != nil {
		return err
	}
	for _, data := range records {
		ch, ok := listeners[data.Service]
		if !ok {
			continue
		}
		ch <- EventChannelData{
			Action: data.Action,
			Data:   []byte(data.Data),
			Out:    out,
		}
	}
	return nil
}

// InitOut publishes the outbound log again without logging it twice.
func InitOut() {
	records, err := ReadLog(RabbitMQOutLogFile)
	if err != nil {
		log.Fatalf("failed replaying out log: %s", err)
	}
	for _, data := range records {
		if err := Publish(data.Service, data.Action, []byte(data.Data), false); err != nil {
			log.Fatalf("failed replaying out log: %s", err)
		}
	}
}
