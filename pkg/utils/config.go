package utils

import "os"

// Config carries every runtime toggle, all sourced from POPWATCH_* env vars.
//
// Each source can be disabled independently; a disabled source behaves
// exactly like one that fails on every call. Kiwi is opt-in because its
// upstream is an unofficial socket.io endpoint with spotty availability.
type Config struct {
	ListenAddr string

	DisableCache bool

	DisableSaerro    bool
	DisableFisu      bool
	DisableHonu      bool
	DisableVoidwell  bool
	DisableSanctuary bool
	EnableKiwi       bool

	VoidwellUsePS4 bool
	FisuUsePS4EU   bool
}

func LoadConfig() Config {
	addr := os.Getenv("POPWATCH_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return Config{
		ListenAddr: addr,

		DisableCache: boolEnv("POPWATCH_DISABLE_CACHE"),

		DisableSaerro:    boolEnv("POPWATCH_DISABLE_SAERRO"),
		DisableFisu:      boolEnv("POPWATCH_DISABLE_FISU"),
		DisableHonu:      boolEnv("POPWATCH_DISABLE_HONU"),
		DisableVoidwell:  boolEnv("POPWATCH_DISABLE_VOIDWELL"),
		DisableSanctuary: boolEnv("POPWATCH_DISABLE_SANCTUARY"),
		EnableKiwi:       boolEnv("POPWATCH_ENABLE_KIWI"),

		// voidwell covers PS4 poorly; its PS4 partitions are opt-in
		VoidwellUsePS4: boolEnv("POPWATCH_VOIDWELL_USE_PS4"),
		// the PS4EU fisu endpoint is solid, so it stays on unless forced off
		FisuUsePS4EU: os.Getenv("POPWATCH_FISU_USE_PS4EU") != "0",
	}
}

func boolEnv(name string) bool {
	return os.Getenv(name) == "1"
}
