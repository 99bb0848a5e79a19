/*
Copyright 2025 Openshelf Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package openshelf

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/openshelf/config"
	"github.com/openshelf/openshelf/database"
	"github.com/openshelf/openshelf/internal/quota"
	"github.com/openshelf/openshelf/internal/ratelimit"
	"github.com/openshelf/openshelf/providers"
)

// newTestShelf assembles an Openshelf around miniredis and sqlmock. The
// constructor is bypassed on purpose: it dials Redis over a URL and builds the
// real provider adapters, while tests script the chain with mock resolvers.
func newTestShelf(t *testing.T) (*Openshelf, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cnf := &config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}}
	config.MockConfig(cnf)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	queue := &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
	}

	limiter := ratelimit.NewLimiter(redisClient, nil)
	gate := quota.NewGate(redisClient, config.PrimaryProvider, 100, 70, 85)

	shelf := &Openshelf{
		queue:      queue,
		redis:      redisClient,
		datasource: database.Datasource{Conn: db},
		registry:   providers.NewRegistry(),
		gate:       gate,
		limiter:    limiter,
	}
	return shelf, mock, mr
}
