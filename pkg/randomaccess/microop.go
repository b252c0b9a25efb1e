package randomaccess

import "context"

// DefaultMicroOperationSize bounds a single backend call issued on behalf of a
// larger transfer.
const DefaultMicroOperationSize = 8 * 1024 * 1024

// MicroOperation processes length elements starting at offset (relative to the
// start of the overall transfer) and returns how many it processed.
type MicroOperation func(ctx context.Context, offset, length int) (int, error)

// ProcessMicroOperations splits a transfer of total elements into consecutive
// chunks of at most microSize elements and runs op on each one in order.
//
// Processing stops early, without error, when op reports fewer elements than it
// was asked for (end of data). The context is checked between chunks.
//
// Returns the number of elements processed in total.
func ProcessMicroOperations(ctx context.Context, total, microSize int, op MicroOperation) (int, error) {
	if microSize <= 0 {
		microSize = DefaultMicroOperationSize
	}

	done := 0
	for done < total {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		length := min(microSize, total-done)
		n, err := op(ctx, done, length)
		done += n
		if err != nil {
			return done, err
		}
		if n < length {
			break
		}
	}
	return done, nil
}
