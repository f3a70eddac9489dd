package makereal

import (
	"make_real/canvas"
	"make_real/generator"
)

// maxToastDescription bounds the error text shown to the user.
const maxToastDescription = 100

// ErrorToast is the notification shown when an invocation fails.
func ErrorToast(err error) canvas.Toast {
	return canvas.Toast{
		Icon:        "cross-2",
		Title:       "Something went wrong",
		Description: generator.Truncate(err.Error(), maxToastDescription),
	}
}
