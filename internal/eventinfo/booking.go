package eventinfo

import (
	"fmt"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/store"
)

// Book creates and registers an event variable in the namespace of info.
func Book[T store.Value](info *Info, name string, opts store.Options) (*store.Storage[T], error) {
	if info.locked {
		return nil, fmt.Errorf("book %q: %w", name, errors.ErrLocked)
	}
	s, err := store.NewStorage[T](name, info, opts)
	if err != nil {
		return nil, err
	}
	if err := info.keeper.Register(s); err != nil {
		info.logger.Error("booking failed", "name", name, "error", err)
		return nil, err
	}
	info.logger.Debug("event variable booked",
		"name", name,
		"type", s.Type().String(),
		"common", opts.Common)
	return s, nil
}

// NewEventVariable books a per-variation event variable.
func NewEventVariable[T store.Value](info *Info, name string, saveTrees, saveVariations bool) (*store.Storage[T], error) {
	opts := store.DefaultOptions()
	opts.SaveTrees = saveTrees
	opts.SaveVariations = saveVariations
	return Book[T](info, name, opts)
}

// NewCommonVariable books a variable shared by every variation. It is
// written to the common tree only.
func NewCommonVariable[T store.Value](info *Info, name string, saveTrees bool) (*store.Storage[T], error) {
	opts := store.DefaultOptions()
	opts.SaveTrees = saveTrees
	opts.Common = true
	return Book[T](info, name, opts)
}

// GetVariableStorage returns the typed event variable visible to info.
func GetVariableStorage[T store.Value](info *Info, name string) (*store.Storage[T], error) {
	return store.EventStorage[T](info.keeper, info, name)
}

// DoesVariableExist reports whether a variable of type T named name is
// visible to info.
func DoesVariableExist[T store.Value](info *Info, name string) bool {
	_, err := GetVariableStorage[T](info, name)
	return err == nil
}

func (i *Info) bookContainer(name string, particle, storeMass bool, opts store.Options) (store.Collection, error) {
	if i.locked {
		return nil, fmt.Errorf("book container %q: %w", name, errors.ErrLocked)
	}
	var (
		c   store.Collection
		err error
	)
	if particle {
		c, err = store.NewParticleStorage(name, i, storeMass, opts)
	} else {
		c, err = store.NewContainerStorage(name, i, opts)
	}
	if err != nil {
		return nil, err
	}
	if err := i.keeper.Register(c); err != nil {
		i.logger.Error("booking failed", "container", name, "error", err)
		return nil, err
	}
	i.logger.Info("container booked",
		"name", name,
		"particle", particle,
		"common", opts.Common)
	return c, nil
}

// BookParticleStorage books a per-variation particle container.
func (i *Info) BookParticleStorage(name string, storeMass, saveVariations, saveTrees bool) (*store.ParticleStorage, error) {
	opts := store.DefaultOptions()
	opts.SaveVariations = saveVariations
	opts.SaveTrees = saveTrees
	c, err := i.bookContainer(name, true, storeMass, opts)
	if err != nil {
		return nil, err
	}
	return c.(*store.ParticleStorage), nil
}

// BookCommonParticleStorage books a particle container shared by every
// variation.
func (i *Info) BookCommonParticleStorage(name string, storeMass, saveTrees bool) (*store.ParticleStorage, error) {
	opts := store.DefaultOptions()
	opts.SaveTrees = saveTrees
	opts.Common = true
	c, err := i.bookContainer(name, true, storeMass, opts)
	if err != nil {
		return nil, err
	}
	return c.(*store.ParticleStorage), nil
}

// BookContainerStorage books a per-variation container of plain objects.
func (i *Info) BookContainerStorage(name string, saveVariations, saveTrees bool) (*store.ContainerStorage, error) {
	opts := store.DefaultOptions()
	opts.SaveVariations = saveVariations
	opts.SaveTrees = saveTrees
	c, err := i.bookContainer(name, false, false, opts)
	if err != nil {
		return nil, err
	}
	return c.(*store.ContainerStorage), nil
}

// BookCommonContainerStorage books a container of plain objects shared by
// every variation.
func (i *Info) BookCommonContainerStorage(name string, saveTrees bool) (*store.ContainerStorage, error) {
	opts := store.DefaultOptions()
	opts.SaveTrees = saveTrees
	opts.Common = true
	c, err := i.bookContainer(name, false, false, opts)
	if err != nil {
		return nil, err
	}
	return c.(*store.ContainerStorage), nil
}

// GetContainerStorage returns the named container visible to info.
func (i *Info) GetContainerStorage(name string) (store.Collection, error) {
	c, err := i.keeper.Container(i, name)
	if err != nil {
		i.logger.Warn("container does not exist", "name", name)
		return nil, err
	}
	return c, nil
}

// GetParticleStorage returns the named particle container.
func (i *Info) GetParticleStorage(name string) (*store.ParticleStorage, error) {
	c, err := i.GetContainerStorage(name)
	if err != nil {
		return nil, err
	}
	p, ok := c.(*store.ParticleStorage)
	if !ok {
		return nil, fmt.Errorf("container %q holds no particles: %w", name, errors.ErrTypeMismatch)
	}
	return p, nil
}

// GetStorages returns the variables visible to info that are saved to
// the requested output. Asking for trees and histograms at once is
// rejected.
func (i *Info) GetStorages(e OutputElement) ([]store.Variable, error) {
	if e&OutputTree != 0 && e&OutputHisto != 0 {
		return nil, fmt.Errorf("storages for trees and histograms at once: %w", errors.ErrInvalidConfig)
	}
	var out []store.Variable
	for _, v := range i.keeper.Variables(i) {
		if e&OutputTree != 0 && !v.SaveTrees() {
			continue
		}
		if e&OutputHisto != 0 && !v.SaveHistos() {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
