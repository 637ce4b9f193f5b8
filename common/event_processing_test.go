package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	_, err := GetNewTaskProcessorInstance("testing", -1)
	assert.NotNil(err)

	uut, err := GetNewTaskProcessorInstance("testing", 4)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	// Case 1: no executor map
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	// Case 2: define the executor map
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct1{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct3{}))
	}

	// Case 3: handler errors are returned
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(testStruct3{}), func(p interface{}) error { return fmt.Errorf("Dummy error") },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}

	// Case 4: append to existing map
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.Nil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}
}

func TestTaskEventLoop(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	uut, err := GetNewTaskProcessorInstance("testing", 2)
	assert.Nil(err)

	type testStruct1 struct{ value int }

	lock := sync.Mutex{}
	processed := []int{}
	release := make(chan struct{})
	assert.Nil(uut.AddToTaskExecutionMap(
		reflect.TypeOf(testStruct1{}), func(p interface{}) error {
			<-release
			lock.Lock()
			defer lock.Unlock()
			processed = append(processed, p.(testStruct1).value)
			return nil
		},
	))
	assert.Nil(uut.StartEventLoop(&wg))

	// Case 1: tasks are processed in order
	{
		for i := 0; i < 3; i++ {
			useContext, cancel := context.WithTimeout(context.Background(), time.Second)
			assert.Nil(uut.Submit(useContext, testStruct1{value: i}))
			cancel()
		}
	}

	// Case 2: submit blocks while the buffer is full
	{
		useContext, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		assert.NotNil(uut.Submit(useContext, testStruct1{value: 3}))
		cancel()
	}

	// Case 3: stop drains the accepted tasks
	{
		close(release)
		assert.Nil(uut.StopEventLoop())
		wg.Wait()
		assert.Equal([]int{0, 1, 2}, processed)
	}

	// Case 4: submit after stop
	{
		useContext, cancel := context.WithTimeout(context.Background(), time.Second)
		assert.NotNil(uut.Submit(useContext, testStruct1{value: 4}))
		cancel()
		assert.Nil(uut.StopEventLoop())
	}
}
