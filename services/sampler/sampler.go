// Package sampler reads the sensor suite and appends CSV records. Sensor
// failures degrade to NaN fields so one flaky device never stalls a
// deployment's sampling cadence.
package sampler

import (
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minion-go/bus"
	"minion-go/types"
)

// Latest readings are retained on these topics so late subscribers see the
// current state immediately.
var (
	TopicTPSample = bus.T("minion", "sample", "tp")
	TopicO2Sample = bus.T("minion", "sample", "o2")
)

const (
	tpHeader = "timestamp,temp_c,depth_m,aux_temp_c\n"
	o2Header = "timestamp,data\n"
)

// ReadPT reads the pressure sensor: pressure in mbar plus its internal
// temperature. ReadT reads the precision thermometer.
type (
	ReadPT func() (mbar, auxTempC float64, err error)
	ReadT  func() (tempC float64, err error)
)

// Depth converts absolute pressure in mbar to approximate depth in metres,
// taking one standard atmosphere off the top.
func Depth(mbar float64) float64 { return mbar*0.01 - 10 }

// TPSampler appends temperature/depth records to one CSV file.
type TPSampler struct {
	readPT ReadPT
	readT  ReadT
	path   string
	conn   *bus.Connection
	log    *zap.Logger
}

// NewTP wires a temperature/pressure sampler. conn may be nil.
func NewTP(readPT ReadPT, readT ReadT, path string, conn *bus.Connection, log *zap.Logger) *TPSampler {
	return &TPSampler{readPT: readPT, readT: readT, path: path, conn: conn, log: log}
}

// Sample takes one reading and appends it. The returned sample carries NaN
// for whichever sensors failed; only file I/O errors propagate.
func (s *TPSampler) Sample(now string) (types.TPSample, error) {
	sample := types.TPSample{
		Timestamp: now,
		TempC:     math.NaN(),
		Depth:     math.NaN(),
		AuxTempC:  math.NaN(),
	}

	if mbar, aux, err := s.readPT(); err != nil {
		s.log.Warn("pressure read failed", zap.Error(err))
	} else {
		sample.Depth = Depth(mbar)
		sample.AuxTempC = aux
	}
	if t, err := s.readT(); err != nil {
		s.log.Warn("temperature read failed", zap.Error(err))
	} else {
		sample.TempC = t
	}

	line := fmt.Sprintf("%s,%.4f,%.3f,%.4f\n",
		sample.Timestamp, sample.TempC, sample.Depth, sample.AuxTempC)
	if err := appendLine(s.path, tpHeader, line); err != nil {
		return sample, errors.Wrap(err, "sampler: tp append")
	}
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(TopicTPSample, sample, true))
	}
	return sample, nil
}

// O2Sampler appends raw optode lines to one CSV file.
type O2Sampler struct {
	read func() (string, error)
	path string
	conn *bus.Connection
	log  *zap.Logger
}

// NewO2 wires an oxygen sampler around the optode's read call.
func NewO2(read func() (string, error), path string, conn *bus.Connection, log *zap.Logger) *O2Sampler {
	return &O2Sampler{read: read, path: path, conn: conn, log: log}
}

// Sample takes one optode reading. Read failures record an empty data field.
func (s *O2Sampler) Sample(now string) (types.O2Sample, error) {
	sample := types.O2Sample{Timestamp: now}
	data, err := s.read()
	if err != nil {
		s.log.Warn("optode read failed", zap.Error(err))
	} else {
		sample.Data = data
	}

	line := fmt.Sprintf("%s,%s\n", sample.Timestamp, sample.Data)
	if err := appendLine(s.path, o2Header, line); err != nil {
		return sample, errors.Wrap(err, "sampler: o2 append")
	}
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(TopicO2Sample, sample, true))
	}
	return sample, nil
}

// appendLine appends to the CSV, writing the header first on a fresh file.
func appendLine(path, header, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		if _, err := f.WriteString(header); err != nil {
			return err
		}
	}
	_, err = f.WriteString(line)
	return err
}
