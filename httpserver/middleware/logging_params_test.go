/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"sync"
	"testing"
	"time"

	"github.com/ssgreg/logf"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/log"
)

func TestLoggingParams_TimeSlots(t *testing.T) {
	lp := &LoggingParams{}
	lp.AddTimeSlotInt("fetch_ms", 100)
	lp.AddTimeSlotDurationInMs("fetch_ms", 2*time.Second)
	lp.AddTimeSlotDurationInMs("network_ms", time.Second)
	lp.ExtendFields(log.String("worker", "v1"))

	require.Equal(t, []log.Field{log.String("worker", "v1")}, lp.logFields(false))
	require.Equal(t, []log.Field{
		log.String("worker", "v1"),
		{Key: "time_slots", Type: logf.FieldTypeObject, Any: loggableIntMap{"fetch_ms": 2100, "network_ms": 1000}},
	}, lp.logFields(true))
	require.Equal(t, int64(2100), lp.TimeSlot("fetch_ms"))
	require.Zero(t, lp.TimeSlot("unknown_ms"))
}

func TestLoggingParams_Concurrent(t *testing.T) {
	lp := &LoggingParams{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lp.AddTimeSlotInt("network_ms", 1)
			lp.ExtendFields(log.Int("n", 1))
		}()
	}
	wg.Wait()

	fields := lp.logFields(true)
	require.Len(t, fields, 11)
	require.Equal(t, loggableIntMap{"network_ms": 10}, fields[10].Any)
}
