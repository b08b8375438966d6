package mocks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MockRandomSuite struct {
	suite.Suite
	random *MockRandom
}

func TestMockRandomSuite(t *testing.T) {
	suite.Run(t, new(MockRandomSuite))
}

func (s *MockRandomSuite) SetupTest() {
	s.random = NewMockRandom()
}

func (s *MockRandomSuite) TestServesInOrderThenEmpty() {
	s.random.QueueString("a", "b")
	s.Equal("a", s.random.String(6, "xyz"))
	s.Equal("b", s.random.String(1, ""))
	s.Equal("", s.random.String(6, "xyz"))
}

func (s *MockRandomSuite) TestConcurrentUseServesEachValueOnce() {
	const n = 50
	values := make([]string, n)
	for i := range values {
		values[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []string
	)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(v string) {
			defer wg.Done()
			s.random.QueueString(v)
		}(values[i])
		go func() {
			defer wg.Done()
			if v := s.random.String(2, ""); v != "" {
				mu.Lock()
				seen = append(seen, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for v := s.random.String(2, ""); v != ""; v = s.random.String(2, "") {
		seen = append(seen, v)
	}
	s.ElementsMatch(values, seen)
}
