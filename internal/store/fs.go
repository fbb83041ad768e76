package store

import (
	"io/fs"

	"github.com/rotisserie/eris"
)

func fsSub(fsys fs.FS, dir string) (fs.FS, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: open %s", dir)
	}
	return sub, nil
}
