package config

const (
	defaultStateDir           = "~/.local/share/pipettor"
	defaultLogDir             = "~/.local/share/pipettor/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultPipetteCapacity    = 300
	defaultPipetteHeadroom    = 10
	defaultPipetteAirGap      = 10
	defaultDeadVolumeFraction = 0.1
	defaultSupernatantChunk   = 190
	defaultBeadFlowRate       = 0.25
	defaultMixRepetitions     = 5
	defaultEngageHeight       = 6
	defaultSettleSeconds      = 180
	defaultRotationBackend    = RotationBackendSQLite
	defaultRotationRecordPath = "~/.i5_record.txt"
	defaultRotationPositions  = 12
)

// Rotation backends.
const (
	RotationBackendSQLite = "sqlite"
	RotationBackendFile   = "file"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Pipette: Pipette{
			Capacity: defaultPipetteCapacity,
			Headroom: defaultPipetteHeadroom,
			AirGap:   defaultPipetteAirGap,
		},
		Allocator: Allocator{
			DeadVolumeFraction: defaultDeadVolumeFraction,
			BlowOut:            true,
		},
		Magbeads: Magbeads{
			SupernatantChunk: defaultSupernatantChunk,
			BeadFlowRate:     defaultBeadFlowRate,
			MixRepetitions:   defaultMixRepetitions,
			EngageHeight:     defaultEngageHeight,
			SettleSeconds:    defaultSettleSeconds,
		},
		Rotation: Rotation{
			Backend:    defaultRotationBackend,
			RecordPath: defaultRotationRecordPath,
			Positions:  defaultRotationPositions,
		},
	}
}
