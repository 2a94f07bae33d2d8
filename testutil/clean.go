package testutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

// CleanDir empties the directory named by dirname, keeping the entries
// named by keeps, and creates it if it does not exist.
func CleanDir(dirname string, keeps ...string) error {
	fis, err := ioutil.ReadDir(dirname)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirname, 0755)
	} else if err != nil {
		return err
	}

	kept := map[string]bool{}
	for _, keep := range keeps {
		kept[keep] = true
	}

	for _, fi := range fis {
		if kept[fi.Name()] {
			continue
		}
		err = os.RemoveAll(filepath.Join(dirname, fi.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}
