package log_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmnoxx/nearcore/libs/log"
)

func TestNewDefaultLogger(t *testing.T) {
	testCases := map[string]struct {
		format    string
		level     string
		expectErr bool
	}{
		"invalid format": {
			format:    "foo",
			level:     "info",
			expectErr: true,
		},
		"invalid level": {
			format:    log.LogFormatJSON,
			level:     "foo",
			expectErr: true,
		},
		"valid format and level": {
			format:    log.LogFormatJSON,
			level:     "info",
			expectErr: false,
		},
		"valid plain format": {
			format:    log.LogFormatPlain,
			level:     "debug",
			expectErr: false,
		},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			_, err := log.NewDefaultLogger(tc.format, tc.level)
			if tc.expectErr {
				require.Error(t, err)
				require.Panics(t, func() {
					_ = log.MustNewDefaultLogger(tc.format, tc.level)
				})
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestWith(t *testing.T) {
	logger := log.NewNopLogger().With("module", "statesync")
	require.NotNil(t, logger)
	logger.Info("msg", "key", "value")
	logger.Debug("msg", "odd-number-of-keyvals")
	logger.Error("msg")
}
