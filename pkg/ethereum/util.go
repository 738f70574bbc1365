package ethereum

import "github.com/ethereum/go-ethereum/common"

// chunkRange splits [from, to] into inclusive windows [start, start+maxSpan],
// so each window covers at most maxSpan+1 blocks, the way collect_logs
// bounds a single eth_getLogs call.
func chunkRange(from, to, maxSpan uint64) [][2]uint64 {
	if maxSpan == 0 {
		maxSpan = 1
	}
	var windows [][2]uint64
	for start := from; start <= to; start += maxSpan + 1 {
		end := start + maxSpan
		if end > to {
			end = to
		}
		windows = append(windows, [2]uint64{start, end})
		if end == to {
			break
		}
	}
	return windows
}

// addressSet is a small helper for address de-duplication.
func addressSet(addrs ...common.Address) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}
