package install

import "time"

const defaultScriptTimeout = 60 * time.Second
