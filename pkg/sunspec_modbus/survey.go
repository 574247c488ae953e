package sunspec_modbus

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_BASE_ADDRESS     = 40000
	SUNSPEC_WK_COMMON        = 1
	SUNSPEC_WK_INVERTERS_MIN = 101
	SUNSPEC_WK_INVERTERS_MAX = 103
	SUNSPEC_WK_CONTROLS      = 123
	SUNSPEC_WK_STORAGE       = 124
	SUNSPEC_MAX_BLOCKS       = 20
)

// "SunS" marker
var sunspecMarker = []uint16{0x5375, 0x6e53}

type SunSpecBlock struct {
	Id       uint16
	BaseAddr uint16
	Length   uint16
}

func (block SunSpecBlock) isEndBlock() bool {
	return block.Id == 0xFFFF
}

// HasStorage reports whether the survey found a storage control model.
func HasStorage(blocks []SunSpecBlock) bool {
	for _, b := range blocks {
		if b.Id == SUNSPEC_WK_STORAGE {
			return true
		}
	}
	return false
}

// Survey walks the SunSpec model chain so register handles can be checked
// against the models the device exposes.
func (reader *ModbusClient) Survey() ([]SunSpecBlock, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if err := reader.ensureOpen(); err != nil {
		return nil, err
	}

	// check SunSpec
	marker, err := reader.readRegisters(SUNSPEC_BASE_ADDRESS, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	if len(marker) != 2 || marker[0] != sunspecMarker[0] || marker[1] != sunspecMarker[1] {
		return nil, errors.New("could not find a SunSpec device")
	}

	// survey blocks
	var blocks []SunSpecBlock
	var baseAddr uint16 = SUNSPEC_BASE_ADDRESS + 2
	for n := 0; n < SUNSPEC_MAX_BLOCKS; n++ {
		block, err := reader.surveyModbusBlock(baseAddr)
		if err != nil {
			return nil, err
		}
		if block.isEndBlock() {
			break
		}
		blocks = append(blocks, *block)
		baseAddr = baseAddr + block.Length + 2
	}
	if len(blocks) == 0 || blocks[0].Id != SUNSPEC_WK_COMMON {
		return nil, errors.New("could not find the sunspec common block")
	}
	return blocks, nil
}

func (reader *ModbusClient) surveyModbusBlock(baseAddr uint16) (*SunSpecBlock, error) {
	header, err := reader.readRegisters(baseAddr, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	if len(header) != 2 {
		return nil, errors.New("short sunspec block header")
	}
	return &SunSpecBlock{
		Id:       header[0],
		Length:   header[1],
		BaseAddr: baseAddr,
	}, nil
}
